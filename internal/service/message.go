package service

import (
	"time"

	"go.uber.org/zap"

	"fademail/backend/internal/domain"
)

// MessageService 封装邮件查询与已读标记。
type MessageService struct {
	store domain.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(store domain.Store, log *zap.Logger) *MessageService {
	return &MessageService{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListForMailbox 返回 (address, sessionId) 对应存活邮箱的全部邮件，
// 按接收时间倒序。没有匹配的存活邮箱时返回 ErrMailboxNotFound。
func (s *MessageService) ListForMailbox(address, sessionID string) ([]domain.Message, error) {
	mailbox, err := s.store.GetMailboxForSession(address, sessionID, s.now())
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(mailbox.ID)
}

// MarkRead 标记邮件已读。
//
// 会话不拥有该邮件时静默跳过——这是对外契约的一部分，
// 不是错误。
func (s *MessageService) MarkRead(messageID, sessionID string) error {
	return s.store.MarkMessageRead(messageID, sessionID)
}
