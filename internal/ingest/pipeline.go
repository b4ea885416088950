package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fademail/backend/internal/domain"
	"fademail/backend/internal/mime"
	"fademail/backend/internal/monitoring"
)

// Notifier 向邮箱所属会话推送新邮件事件。
type Notifier interface {
	NotifyNewEmail(sessionID, address string, message *domain.Message)
}

// Pipeline 将一封原始邮件落库并通知会话。
//
// IMAP 轮询与 SMTP 直接投递两种模式共用同一条处理链：
// 解析 → 提取收件人 → 活跃邮箱匹配 → 去重入库 → 推送通知。
type Pipeline struct {
	store   domain.Store
	hub     Notifier
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewPipeline 创建邮件处理链
func NewPipeline(store domain.Store, hub Notifier, log *zap.Logger, metrics *monitoring.Metrics) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:   store,
		hub:     hub,
		log:     log,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process 处理一封原始邮件，收件人从邮件头中提取。
//
// 解析失败、收件人无活跃邮箱、重复邮件都是终态：记录后返回 nil，
// 调用方应将邮件标记为已消费。仅存储故障返回错误，
// 这类邮件保留未读状态，待下次取回重试。
func (p *Pipeline) Process(data []byte) error {
	return p.process(data, "")
}

// ProcessFor 以既定收件人处理邮件。
//
// SMTP 直投模式使用信封收件人，不从邮件头提取（密送时两者不一致）。
func (p *Pipeline) ProcessFor(recipient string, data []byte) error {
	return p.process(data, recipient)
}

func (p *Pipeline) process(data []byte, recipient string) error {
	start := time.Now()

	parsed, err := mime.Parse(data)
	if err != nil {
		p.log.Warn("failed to parse message, skipping", zap.Error(err))
		if p.metrics != nil {
			p.metrics.IngestParseErrors.Inc()
		}
		return nil
	}

	if recipient == "" {
		recipient = ExtractRecipient(parsed.To)
	}
	if recipient == "" {
		p.log.Info("message without recognizable recipient, dropping",
			zap.String("to", parsed.To),
			zap.String("from", parsed.From))
		if p.metrics != nil {
			p.metrics.MessagesUnmatched.Inc()
		}
		return nil
	}

	mailbox, err := p.store.GetActiveMailboxByAddress(recipient, p.now())
	if errors.Is(err, domain.ErrMailboxNotFound) {
		// 过期或未知邮箱不接收追溯投递
		p.log.Info("no live mailbox for recipient, dropping",
			zap.String("recipient", recipient),
			zap.String("from", parsed.From))
		if p.metrics != nil {
			p.metrics.MessagesUnmatched.Inc()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve mailbox: %w", err)
	}

	receivedAt := parsed.Date
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}

	message := &domain.Message{
		ID:          uuid.NewString(),
		MailboxID:   mailbox.ID,
		Sender:      parsed.From,
		Subject:     parsed.Subject,
		BodyText:    parsed.Text,
		BodyHTML:    parsed.HTML,
		ReceivedAt:  receivedAt.UTC(),
		Attachments: parsed.Attachments,
	}
	if parsed.MessageID != "" {
		message.SourceMessageID = &parsed.MessageID
	}

	if err := p.store.SaveMessage(message); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			p.log.Debug("duplicate message, dropping",
				zap.String("sourceMessageID", parsed.MessageID))
			if p.metrics != nil {
				p.metrics.MessagesDuplicate.Inc()
			}
			return nil
		}
		return fmt.Errorf("save message: %w", err)
	}

	if p.metrics != nil {
		p.metrics.MessagesIngested.Inc()
		p.metrics.IngestProcessTime.Observe(time.Since(start).Seconds())
	}

	p.log.Info("message ingested",
		zap.String("messageID", message.ID),
		zap.String("mailbox", mailbox.Address),
		zap.String("from", message.Sender),
		zap.String("subject", message.Subject))

	if p.hub != nil {
		p.hub.NotifyNewEmail(mailbox.SessionID, mailbox.Address, message)
	}

	return nil
}
