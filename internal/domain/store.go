package domain

import "time"

// Store 聚合引擎需要的全部存储操作。
//
// 三个并发流程（分配器、摄取循环、清理器）共享同一个 Store，
// 每个方法都是独立的事务单元。
type Store interface {
	// ========== Mailbox ==========

	// SaveMailbox 插入邮箱记录。地址与某个存活邮箱冲突时返回
	// ErrAddressConflict。
	SaveMailbox(mailbox *Mailbox) error
	GetMailbox(id string) (*Mailbox, error)
	// GetActiveMailboxByAddress 按地址查找存活邮箱
	// （active = true 且 expiresAt > now），查不到返回 ErrMailboxNotFound。
	GetActiveMailboxByAddress(address string, now time.Time) (*Mailbox, error)
	// GetMailboxForSession 按 (address, sessionId) 查找存活邮箱。
	GetMailboxForSession(address, sessionID string, now time.Time) (*Mailbox, error)
	DeactivateMailbox(id string) error
	// DeleteExpiredMailboxes 删除所有 expiresAt <= now 或 active = false
	// 的邮箱并级联删除其邮件，返回删除的邮箱数量。
	DeleteExpiredMailboxes(now time.Time) (int, error)
	CountActiveMailboxes(now time.Time) (int, error)

	// ========== Message ==========

	// SaveMessage 插入邮件。SourceMessageID 与已有记录重复时返回
	// ErrDuplicateMessage。
	SaveMessage(message *Message) error
	// ListMessages 返回邮箱内全部邮件，按接收时间倒序。
	ListMessages(mailboxID string) ([]Message, error)
	// MarkMessageRead 将邮件标记为已读；仅当邮件所属邮箱归 sessionID
	// 所有时生效，否则静默跳过。
	MarkMessageRead(messageID, sessionID string) error

	// ========== Session ==========

	// UpsertSession 创建会话或刷新其 LastActivityAt 与 IPAddress。
	UpsertSession(session *Session) error
	GetSession(id string) (*Session, error)

	// ========== Lifecycle ==========

	Health() error
	Close() error
}
