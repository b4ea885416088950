package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("首次成功不再重试", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Config{MaxAttempts: 5}, func(context.Context) error {
			calls++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("失败后重试直到成功", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Config{MaxAttempts: 10, Backoff: NoBackoff}, func(context.Context) error {
			calls++
			if calls < 10 {
				return errBoom
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 10, calls)
	})

	t.Run("次数用尽返回ErrAttemptsExhausted", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Config{MaxAttempts: 10}, func(context.Context) error {
			calls++
			return errBoom
		})

		require.Error(t, err)
		assert.Equal(t, 10, calls)
		assert.ErrorIs(t, err, ErrAttemptsExhausted)
		assert.ErrorIs(t, err, errBoom)

		var retryErr *Error
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 10, retryErr.Attempts)
	})

	t.Run("不可重试的错误原样返回", func(t *testing.T) {
		errFatal := errors.New("fatal")
		calls := 0
		err := Do(context.Background(), Config{
			MaxAttempts: 5,
			Retryable:   func(err error) bool { return !errors.Is(err, errFatal) },
		}, func(context.Context) error {
			calls++
			return errFatal
		})

		assert.Equal(t, errFatal, err)
		assert.Equal(t, 1, calls)
		assert.NotErrorIs(t, err, ErrAttemptsExhausted)
	})

	t.Run("ctx取消立即停止", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Config{MaxAttempts: 5, Backoff: Linear(time.Hour)}, func(context.Context) error {
			calls++
			cancel()
			return errBoom
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestLinear(t *testing.T) {
	backoff := Linear(5 * time.Second)

	assert.Equal(t, 5*time.Second, backoff(1))
	assert.Equal(t, 10*time.Second, backoff(2))
	assert.Equal(t, 25*time.Second, backoff(5))
}
