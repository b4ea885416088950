// Package imap 实现基于上游 IMAP 账号的邮件源。
//
// 连接后选定 INBOX，通过 IDLE 等待新邮件通知，
// 服务器不支持 IDLE 或长时间无通知时按兜底周期轮询。
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"fademail/backend/internal/config"
	"fademail/backend/internal/ingest"
)

// Source 是一条 IMAP 连接上的邮件源。
//
// 方法不支持并发调用，与摄取循环的单协程模型一致。
type Source struct {
	cfg *config.IMAPConfig
	log *zap.Logger

	client    *imapclient.Client
	stopClose func() bool   // 解除停机强制断连钩子
	mailCh    chan struct{} // 服务器推送的新邮件信号
}

var _ ingest.Source = (*Source)(nil)

// NewSource 创建 IMAP 邮件源
func NewSource(cfg *config.IMAPConfig, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{
		cfg:    cfg,
		log:    log,
		mailCh: make(chan struct{}, 1),
	}
}

// Connect 建立连接、登录并选定 INBOX。
func (s *Source) Connect(ctx context.Context) error {
	address := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case s.mailCh <- struct{}{}:
					default:
					}
				}
			},
		},
	}
	if s.cfg.TLS {
		options.TLSConfig = &tls.Config{ServerName: s.cfg.Host}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if s.cfg.TLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", address, err)
	}

	// 停机信号要能中断握手以及之后所有阻塞在套接字上的调用，
	// 钩子保持挂载直到 Close 解除
	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		stopClose()
		_ = client.Close()
		return fmt.Errorf("imap login failed: %w", err)
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		stopClose()
		_ = client.Close()
		return fmt.Errorf("select inbox: %w", err)
	}

	// 丢弃上一条连接残留的信号
	select {
	case <-s.mailCh:
	default:
	}

	s.client = client
	s.stopClose = stopClose
	s.log.Info("imap connection established",
		zap.String("address", address),
		zap.String("user", s.cfg.Username),
		zap.Bool("tls", s.cfg.TLS))
	return nil
}

// WaitForMail 等待新邮件信号或兜底轮询周期到达。
func (s *Source) WaitForMail(ctx context.Context) error {
	idle, err := s.client.Idle()
	if err != nil {
		// IDLE 不可用，退回纯轮询
		s.log.Debug("imap idle unavailable, falling back to polling", zap.Error(err))
		return s.waitPoll(ctx)
	}

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = idle.Close()
		_ = idle.Wait()
		return ctx.Err()
	case <-s.mailCh:
	case <-timer.C:
	}

	if err := idle.Close(); err != nil {
		return fmt.Errorf("stop idle: %w", err)
	}
	if err := idle.Wait(); err != nil {
		return fmt.Errorf("idle: %w", err)
	}
	return nil
}

// waitPoll 纯轮询等待，同时探测连接是否仍然存活。
func (s *Source) waitPoll(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.mailCh:
		return nil
	case <-timer.C:
		if err := s.client.Noop().Wait(); err != nil {
			return fmt.Errorf("noop: %w", err)
		}
		return nil
	}
}

// FetchUnseen 搜索并取回所有未读邮件的原始内容。
func (s *Source) FetchUnseen(ctx context.Context) ([]ingest.RawMessage, error) {
	criteria := &imapv2.SearchCriteria{
		NotFlag: []imapv2.Flag{imapv2.FlagSeen},
	}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imapv2.FetchItemBodySection{}
	fetchOptions := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}
	buffers, err := s.client.Fetch(imapv2.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}

	messages := make([]ingest.RawMessage, 0, len(buffers))
	for _, buffer := range buffers {
		body := buffer.FindBodySection(section)
		if body == nil {
			s.log.Warn("fetched message without body section", zap.Uint32("uid", uint32(buffer.UID)))
			continue
		}
		messages = append(messages, ingest.RawMessage{
			UID:  uint32(buffer.UID),
			Data: body,
		})
	}

	s.log.Debug("fetched unseen messages", zap.Int("count", len(messages)))
	return messages, nil
}

// MarkSeen 给邮件打上已读标记，避免重复摄取。
func (s *Source) MarkSeen(ctx context.Context, uid uint32) error {
	flags := &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}
	if err := s.client.Store(imapv2.UIDSetNum(imapv2.UID(uid)), flags, nil).Close(); err != nil {
		return fmt.Errorf("mark seen uid %d: %w", uid, err)
	}
	return nil
}

// Close 关闭当前连接，对已关闭的连接重复调用是安全的。
func (s *Source) Close() error {
	if s.client == nil {
		return nil
	}
	if s.stopClose != nil {
		s.stopClose()
		s.stopClose = nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
