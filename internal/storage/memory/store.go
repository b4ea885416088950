// Package memory 提供内存版 Store 实现，主要用于开发验证与测试。
package memory

import (
	"sort"
	"sync"
	"time"

	"fademail/backend/internal/domain"
)

// Store 使用内存保存邮箱、邮件与会话数据。
//
// 所有方法都在单个互斥锁内完成，等价于逐方法的事务单元。
type Store struct {
	mu          sync.RWMutex
	mailboxes   map[string]*domain.Mailbox            // mailboxID -> mailbox
	byAddress   map[string]string                     // address -> mailboxID
	messages    map[string]map[string]*domain.Message // mailboxID -> messageID -> message
	byMessageID map[string]string                     // messageID -> mailboxID
	sourceIDs   map[string]string                     // sourceMessageID -> messageID
	sessions    map[string]*domain.Session            // sessionID -> session
	closed      bool
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes:   make(map[string]*domain.Mailbox),
		byAddress:   make(map[string]string),
		messages:    make(map[string]map[string]*domain.Message),
		byMessageID: make(map[string]string),
		sourceIDs:   make(map[string]string),
		sessions:    make(map[string]*domain.Session),
	}
}

// SaveMailbox 插入邮箱记录，地址已被占用时返回 ErrAddressConflict。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAddress[mailbox.Address]; exists {
		return domain.ErrAddressConflict
	}

	copied := *mailbox
	s.mailboxes[copied.ID] = &copied
	s.byAddress[copied.Address] = copied.ID
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[id]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	copied := *mailbox
	return &copied, nil
}

// GetActiveMailboxByAddress 按地址查找存活邮箱。
//
// 存活条件（active 且未过期）在每次查找时重新判定，
// 这样与清理器并发时过期邮箱只会表现为"查不到"。
func (s *Store) GetActiveMailboxByAddress(address string, now time.Time) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	mailbox := s.mailboxes[id]
	if mailbox == nil || !mailbox.Live(now) {
		return nil, domain.ErrMailboxNotFound
	}
	copied := *mailbox
	return &copied, nil
}

// GetMailboxForSession 按 (address, sessionId) 查找存活邮箱。
func (s *Store) GetMailboxForSession(address, sessionID string, now time.Time) (*domain.Mailbox, error) {
	mailbox, err := s.GetActiveMailboxByAddress(address, now)
	if err != nil {
		return nil, err
	}
	if mailbox.SessionID != sessionID {
		return nil, domain.ErrMailboxNotFound
	}
	return mailbox, nil
}

// DeactivateMailbox 将邮箱标记为停用，等待清理器回收。
func (s *Store) DeactivateMailbox(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[id]
	if !ok {
		return domain.ErrMailboxNotFound
	}
	mailbox.Active = false
	return nil
}

// DeleteExpiredMailboxes 删除所有过期或已停用的邮箱，级联删除其邮件。
func (s *Store) DeleteExpiredMailboxes(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, mailbox := range s.mailboxes {
		if mailbox.Active && mailbox.ExpiresAt.After(now) {
			continue
		}
		s.deleteMailboxLocked(id)
		deleted++
	}
	return deleted, nil
}

// CountActiveMailboxes 统计当前存活邮箱数量。
func (s *Store) CountActiveMailboxes(now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, mailbox := range s.mailboxes {
		if mailbox.Live(now) {
			count++
		}
	}
	return count, nil
}

// deleteMailboxLocked 删除邮箱及其全部邮件，调用方必须持有写锁。
func (s *Store) deleteMailboxLocked(id string) {
	mailbox, ok := s.mailboxes[id]
	if !ok {
		return
	}
	for messageID, message := range s.messages[id] {
		delete(s.byMessageID, messageID)
		if message.SourceMessageID != nil {
			delete(s.sourceIDs, *message.SourceMessageID)
		}
	}
	delete(s.messages, id)
	delete(s.byAddress, mailbox.Address)
	delete(s.mailboxes, id)
}

// SaveMessage 插入邮件，SourceMessageID 重复时返回 ErrDuplicateMessage。
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[message.MailboxID]; !ok {
		return domain.ErrMailboxNotFound
	}

	if message.SourceMessageID != nil {
		if _, dup := s.sourceIDs[*message.SourceMessageID]; dup {
			return domain.ErrDuplicateMessage
		}
	}

	copied := *message
	if s.messages[copied.MailboxID] == nil {
		s.messages[copied.MailboxID] = make(map[string]*domain.Message)
	}
	s.messages[copied.MailboxID][copied.ID] = &copied
	s.byMessageID[copied.ID] = copied.MailboxID
	if copied.SourceMessageID != nil {
		s.sourceIDs[*copied.SourceMessageID] = copied.ID
	}
	return nil
}

// ListMessages 返回邮箱内全部邮件，按接收时间倒序。
func (s *Store) ListMessages(mailboxID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[mailboxID]
	result := make([]domain.Message, 0, len(stored))
	for _, message := range stored {
		result = append(result, *message)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	return result, nil
}

// MarkMessageRead 标记邮件已读。
//
// 邮件不存在或不属于该会话时静默跳过，与对外契约保持一致。
func (s *Store) MarkMessageRead(messageID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailboxID, ok := s.byMessageID[messageID]
	if !ok {
		return nil
	}
	mailbox := s.mailboxes[mailboxID]
	if mailbox == nil || mailbox.SessionID != sessionID {
		return nil
	}
	if message := s.messages[mailboxID][messageID]; message != nil {
		message.IsRead = true
	}
	return nil
}

// UpsertSession 创建会话或刷新其活动时间与来源 IP。
func (s *Store) UpsertSession(session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[session.ID]; ok {
		existing.LastActivityAt = session.LastActivityAt
		if session.IPAddress != "" {
			existing.IPAddress = session.IPAddress
		}
		return nil
	}

	copied := *session
	s.sessions[copied.ID] = &copied
	return nil
}

// GetSession 根据 ID 获取会话。
func (s *Store) GetSession(id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

// Health 检查存储是否可用。
func (s *Store) Health() error {
	return nil
}

// Close 释放存储资源。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
