// Package smtp 实现直接投递模式的邮件源：一个只接收邮件的
// SMTP 服务器，收到的邮件直接进入摄取处理链。
package smtp

import (
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"fademail/backend/internal/config"
	"fademail/backend/internal/domain"
	"fademail/backend/internal/ingest"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发给本系统域名下活跃邮箱的邮件，其余一律 550 拒绝，
// 不做任何中继。收件人校验发生在 RCPT 阶段，
// 非活跃邮箱的邮件在入站时就被挡掉。
type Backend struct {
	store         domain.Store
	pipeline      *ingest.Pipeline
	mailboxDomain string
	log           *zap.Logger
	now           func() time.Time
}

// NewBackend 创建 SMTP Backend。
func NewBackend(store domain.Store, pipeline *ingest.Pipeline, mailboxDomain string, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		store:         store,
		pipeline:      pipeline,
		mailboxDomain: strings.ToLower(mailboxDomain),
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

// NewServer 按配置组装 go-smtp 服务器。
func NewServer(backend *Backend, cfg *config.SMTPConfig) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = cfg.BindAddr
	server.Domain = cfg.Domain
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = 10 * 1024 * 1024 // 10MB
	server.MaxRecipients = 50
	return server
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只接受本系统域名下活跃邮箱的地址：域名不符视为中继企图，
// 域名相符但邮箱不存在或已过期同样拒绝。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if !strings.EqualFold(parts[1], s.backend.mailboxDomain) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	if _, err := s.backend.store.GetActiveMailboxByAddress(addr, s.backend.now()); err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容，逐收件人走摄取处理链。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, 10<<20)) // 10MB
	if err != nil {
		return err
	}

	for _, rcpt := range s.recipients {
		if err := s.backend.pipeline.ProcessFor(rcpt, rawBytes); err != nil {
			s.backend.log.Error("failed to ingest delivered message",
				zap.String("recipient", rcpt),
				zap.Error(err))
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "temporary failure, try again later",
			}
		}
	}

	return nil
}

// AuthPlain 处理 PLAIN 认证（此处允许匿名）。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	return strings.Trim(addr, "<>")
}
