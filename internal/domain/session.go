package domain

import "time"

// Session 表示客户端关联标识。
//
// 仅用于审计与通知寻址，不是认证主体；
// 每次创建邮箱时 Upsert 并刷新 LastActivityAt。
type Session struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	IPAddress      string    `json:"-" gorm:"type:varchar(45)"`
}
