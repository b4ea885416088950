// Package retry 提供带上限的重试组合子。
//
// 地址分配（无退避）与邮件源重连（线性退避）共用同一实现，
// 避免在两处各写一套临时重试逻辑。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted 表示所有尝试均失败。
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// BackoffFunc 根据尝试序号（从 1 开始）计算下一次尝试前的等待时间。
type BackoffFunc func(attempt int) time.Duration

// NoBackoff 立即重试。
func NoBackoff(int) time.Duration { return 0 }

// Linear 返回 base × attempt 的线性退避。
func Linear(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Config 定义重试策略。
type Config struct {
	MaxAttempts int         // 最大尝试次数（含首次）
	Backoff     BackoffFunc // 失败后的等待策略，nil 表示不等待
	// Retryable 判断某个错误是否值得重试，nil 表示全部重试。
	// 不可重试的错误原样返回，不计入尝试耗尽。
	Retryable func(error) bool
}

// Error 记录一次失败的重试过程。
type Error struct {
	Attempts int   // 实际尝试次数
	Cause    error // 最后一次失败的原因
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: %d attempts failed: %v", e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return target == ErrAttemptsExhausted || errors.Is(e.Cause, target)
}

// Do 按配置重复执行 fn 直到成功、尝试次数用尽或 ctx 取消。
//
// fn 返回 nil 即视为成功。次数用尽时返回 *Error，
// 可用 errors.Is(err, ErrAttemptsExhausted) 判断。
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}

		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.Backoff != nil {
			if delay := cfg.Backoff(attempt); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
	}

	return &Error{Attempts: cfg.MaxAttempts, Cause: lastErr}
}
