package domain

import "time"

// Mailbox 表示一个临时邮箱记录。
//
// 同一地址在任意时刻最多只有一条 Active=true 的记录，
// 由存储层的唯一索引保证。
type Mailbox struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address   string    `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	SessionID string    `json:"sessionId" gorm:"type:varchar(64);index"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"index"`
	Active    bool      `json:"active" gorm:"default:true;index"`
}

// Live 判断邮箱在给定时刻是否可以接收邮件。
func (m *Mailbox) Live(now time.Time) bool {
	return m.Active && m.ExpiresAt.After(now)
}
