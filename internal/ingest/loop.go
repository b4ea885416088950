package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fademail/backend/internal/monitoring"
	"fademail/backend/internal/retry"
)

// State 表示摄取循环的连接状态。
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFatal:
		return "fatal"
	default:
		return "disconnected"
	}
}

// Loop 驱动一条邮件源连接，断线后按线性退避重连。
//
// 连续重连次数达到上限后进入致命状态并退出，
// 不再自动重试，需要运维介入重启进程。
type Loop struct {
	source   Source
	pipeline *Pipeline

	maxAttempts int
	backoff     retry.BackoffFunc

	log     *zap.Logger
	metrics *monitoring.Metrics

	state atomic.Int32
}

// NewLoop 创建摄取循环
func NewLoop(source Source, pipeline *Pipeline, maxAttempts int, backoffBase time.Duration, log *zap.Logger, metrics *monitoring.Metrics) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoffBase <= 0 {
		backoffBase = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		source:      source,
		pipeline:    pipeline,
		maxAttempts: maxAttempts,
		backoff:     retry.Linear(backoffBase),
		log:         log,
		metrics:     metrics,
	}
}

// State 返回当前连接状态
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Fatal 报告循环是否已因重连耗尽而停止，用于就绪探针。
func (l *Loop) Fatal() bool {
	return l.State() == StateFatal
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run 运行摄取循环直到 ctx 取消或重连耗尽。
//
// 正常停机返回 nil；重连耗尽返回最后一次连接错误。
func (l *Loop) Run(ctx context.Context) error {
	// 首次连接与断线重连共用一个尝试预算，Ready 时归零
	attempt := 1
	for {
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return nil
		}

		l.setState(StateConnecting)
		if err := l.source.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				l.setState(StateDisconnected)
				return nil
			}

			l.log.Warn("mail source connect failed",
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", l.maxAttempts),
				zap.Error(err))

			if attempt >= l.maxAttempts {
				l.setState(StateFatal)
				if l.metrics != nil {
					l.metrics.SourceFatal.Set(1)
				}
				l.log.Error("mail source reconnect attempts exhausted, manual restart required",
					zap.Int("attempts", attempt))
				return fmt.Errorf("connect mail source after %d attempts: %w", attempt, err)
			}

			// 退避时长按即将开始的下一次尝试计
			attempt++
			if !l.scheduleReconnect(ctx, attempt) {
				l.setState(StateDisconnected)
				return nil
			}
			continue
		}

		l.setState(StateReady)
		attempt = 1
		if l.metrics != nil {
			l.metrics.SourceFatal.Set(0)
		}
		l.log.Info("mail source ready")

		err := l.serve(ctx)
		l.source.Close()

		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return nil
		}

		l.log.Warn("mail source connection lost", zap.Error(err))
		if !l.scheduleReconnect(ctx, attempt) {
			l.setState(StateDisconnected)
			return nil
		}
	}
}

// scheduleReconnect 按线性退避等待下一次重连，ctx 取消时返回 false。
func (l *Loop) scheduleReconnect(ctx context.Context, attempt int) bool {
	l.setState(StateReconnecting)
	if l.metrics != nil {
		l.metrics.SourceReconnects.Inc()
	}

	delay := l.backoff(attempt)
	l.log.Info("reconnecting to mail source",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// serve 在一条已就绪的连接上收取邮件，连接失效时返回错误。
func (l *Loop) serve(ctx context.Context) error {
	// 连接建立后先清一次积压
	if err := l.drain(ctx); err != nil {
		return err
	}

	for {
		if err := l.source.WaitForMail(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.drain(ctx); err != nil {
			return err
		}
	}
}

// drain 取回并处理所有未读邮件。
//
// 处理中的邮件完整落库后才响应取消，避免写到一半的消息；
// 仅存储故障的邮件保留未读，待下次取回重试。
func (l *Loop) drain(ctx context.Context) error {
	messages, err := l.source.FetchUnseen(ctx)
	if err != nil {
		return err
	}

	for _, raw := range messages {
		if err := l.pipeline.Process(raw.Data); err != nil {
			l.log.Error("failed to process message",
				zap.Uint32("uid", raw.UID),
				zap.Error(err))
			continue
		}
		if err := l.source.MarkSeen(ctx, raw.UID); err != nil {
			l.log.Warn("failed to mark message seen",
				zap.Uint32("uid", raw.UID),
				zap.Error(err))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
