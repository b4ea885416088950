package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fademail/backend/internal/config"
	"fademail/backend/internal/domain"
	"fademail/backend/internal/storage/memory"
)

func testMailboxConfig() *config.MailboxConfig {
	return &config.MailboxConfig{
		Domain:         "fade.mail",
		TTL:            15 * time.Minute,
		AllocAttempts:  10,
		ReaperInterval: 5 * time.Minute,
	}
}

// collidingStore 在前 N 次插入时强制返回地址冲突。
type collidingStore struct {
	domain.Store
	collisionsLeft int
	saveCalls      int
}

func (s *collidingStore) SaveMailbox(mailbox *domain.Mailbox) error {
	s.saveCalls++
	if s.collisionsLeft > 0 {
		s.collisionsLeft--
		return domain.ErrAddressConflict
	}
	return s.Store.SaveMailbox(mailbox)
}

// failingStore 在插入时返回存储故障。
type failingStore struct {
	domain.Store
}

func (s *failingStore) SaveMailbox(*domain.Mailbox) error {
	return errors.New("connection refused")
}

func TestAllocator_Allocate(t *testing.T) {
	log := zap.NewNop()

	t.Run("分配成功并刷新会话", func(t *testing.T) {
		store := memory.NewStore()
		allocator := NewAllocator(store, testMailboxConfig(), log)

		mailbox, err := allocator.Allocate(context.Background(), "s1", "192.168.1.1")
		require.NoError(t, err)
		require.NotNil(t, mailbox)

		assert.NotEmpty(t, mailbox.ID)
		assert.True(t, strings.HasSuffix(mailbox.Address, "@fade.mail"))
		assert.Equal(t, "s1", mailbox.SessionID)
		assert.True(t, mailbox.Active)
		// 过期时间 = 创建时间 + TTL
		assert.Equal(t, mailbox.CreatedAt.Add(15*time.Minute), mailbox.ExpiresAt)

		session, err := store.GetSession("s1")
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.1", session.IPAddress)
	})

	t.Run("分配的地址在存活邮箱中唯一", func(t *testing.T) {
		store := memory.NewStore()
		allocator := NewAllocator(store, testMailboxConfig(), log)

		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			mailbox, err := allocator.Allocate(context.Background(), "s1", "")
			require.NoError(t, err)
			assert.False(t, seen[mailbox.Address], "address %s allocated twice", mailbox.Address)
			seen[mailbox.Address] = true
		}
	})

	t.Run("碰撞9次后第10次成功", func(t *testing.T) {
		store := &collidingStore{Store: memory.NewStore(), collisionsLeft: 9}
		allocator := NewAllocator(store, testMailboxConfig(), log)

		mailbox, err := allocator.Allocate(context.Background(), "s1", "")
		require.NoError(t, err)
		assert.NotNil(t, mailbox)
		assert.Equal(t, 10, store.saveCalls)
	})

	t.Run("连续碰撞10次返回AllocationExhausted", func(t *testing.T) {
		store := &collidingStore{Store: memory.NewStore(), collisionsLeft: 10}
		allocator := NewAllocator(store, testMailboxConfig(), log)

		mailbox, err := allocator.Allocate(context.Background(), "s1", "")
		assert.Nil(t, mailbox)
		assert.ErrorIs(t, err, domain.ErrAllocationExhausted)
		assert.Equal(t, 10, store.saveCalls)
	})

	t.Run("存储故障不重试直接上抛", func(t *testing.T) {
		allocator := NewAllocator(&failingStore{Store: memory.NewStore()}, testMailboxConfig(), log)

		mailbox, err := allocator.Allocate(context.Background(), "s1", "")
		assert.Nil(t, mailbox)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrAllocationExhausted)
	})
}
