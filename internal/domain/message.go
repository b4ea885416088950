package domain

import "time"

// Message 表示一封投递到临时邮箱的邮件。
//
// 仅由邮件摄取流程在收件人解析成功后创建；
// 随所属邮箱级联删除。
type Message struct {
	ID              string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID       string       `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	SourceMessageID *string      `json:"sourceMessageId,omitempty" gorm:"type:varchar(512);uniqueIndex"` // 邮件源 Message-ID，去重键（可空）
	Sender          string       `json:"sender" gorm:"type:varchar(255)"`
	Subject         string       `json:"subject" gorm:"type:varchar(500)"`
	BodyText        string       `json:"body" gorm:"type:text"`
	BodyHTML        string       `json:"bodyHtml" gorm:"type:text"`
	ReceivedAt      time.Time    `json:"receivedAt" gorm:"index"`
	Attachments     []Attachment `json:"attachments" gorm:"serializer:json;type:text"` // 附件元数据列表（序列化存储）
	IsRead          bool         `json:"isRead" gorm:"default:false"`
}

// Preview 返回正文前 100 个字符，用于通知与列表展示。
func (m *Message) Preview() string {
	const previewLen = 100
	runes := []rune(m.BodyText)
	if len(runes) > previewLen {
		return string(runes[:previewLen])
	}
	return m.BodyText
}
