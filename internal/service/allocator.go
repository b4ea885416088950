package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fademail/backend/internal/config"
	"fademail/backend/internal/domain"
	"fademail/backend/internal/retry"
)

// 随机地址的词库。组合形如 quickfox1234@<domain>。
var (
	addressAdjectives = []string{
		"quick", "bright", "cool", "smart", "fast", "blue", "red", "green",
		"happy", "lucky", "magic", "super", "mega", "ultra", "prime", "alpha",
		"beta", "gamma", "delta", "omega", "swift", "sharp", "bold", "brave",
	}
	addressNouns = []string{
		"fox", "cat", "dog", "bird", "fish", "star", "moon", "sun",
		"lion", "tiger", "bear", "wolf", "eagle", "shark", "whale", "dragon",
		"phoenix", "unicorn", "knight", "wizard", "ninja", "robot", "cyber", "tech",
	}
)

// Allocator 负责分配带过期时间的临时邮箱地址。
type Allocator struct {
	store  domain.Store
	cfg    *config.MailboxConfig
	log    *zap.Logger
	mu     sync.Mutex
	random *rand.Rand
	now    func() time.Time
}

// NewAllocator 创建地址分配器。
func NewAllocator(store domain.Store, cfg *config.MailboxConfig, log *zap.Logger) *Allocator {
	return &Allocator{
		store:  store,
		cfg:    cfg,
		log:    log,
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Allocate 生成唯一地址并落库，同时刷新会话活动时间。
//
// 生成-检查-插入最多重复 cfg.AllocAttempts 次（无退避）；
// 插入时撞上唯一索引与预检碰撞同等对待，继续重试。
// 次数用尽返回 ErrAllocationExhausted。
func (a *Allocator) Allocate(ctx context.Context, sessionID, ipAddress string) (*domain.Mailbox, error) {
	var mailbox *domain.Mailbox

	err := retry.Do(ctx, retry.Config{
		MaxAttempts: a.cfg.AllocAttempts,
		Backoff:     retry.NoBackoff,
		// 只有地址碰撞值得换个地址重来，存储故障直接上抛
		Retryable: func(err error) bool {
			return errors.Is(err, domain.ErrAddressConflict)
		},
	}, func(ctx context.Context) error {
		now := a.now()
		candidate := &domain.Mailbox{
			ID:        uuid.NewString(),
			Address:   a.randomAddress(),
			SessionID: sessionID,
			CreatedAt: now,
			ExpiresAt: now.Add(a.cfg.TTL),
			Active:    true,
		}

		// 预检：地址已被存活邮箱占用就换一个重来
		if _, err := a.store.GetActiveMailboxByAddress(candidate.Address, now); err == nil {
			return domain.ErrAddressConflict
		} else if !errors.Is(err, domain.ErrMailboxNotFound) {
			return err
		}

		if err := a.store.SaveMailbox(candidate); err != nil {
			return err
		}

		mailbox = candidate
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrAttemptsExhausted) {
			a.log.Warn("address allocation exhausted",
				zap.String("session_id", sessionID),
				zap.Int("attempts", a.cfg.AllocAttempts))
			return nil, domain.ErrAllocationExhausted
		}
		return nil, fmt.Errorf("allocate mailbox: %w", err)
	}

	now := a.now()
	if err := a.store.UpsertSession(&domain.Session{
		ID:             sessionID,
		CreatedAt:      now,
		LastActivityAt: now,
		IPAddress:      ipAddress,
	}); err != nil {
		// 会话只是审计信息，落库失败不回滚已分配的邮箱
		a.log.Warn("failed to upsert session",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	a.log.Info("mailbox allocated",
		zap.String("address", mailbox.Address),
		zap.String("session_id", sessionID),
		zap.Time("expires_at", mailbox.ExpiresAt))

	return mailbox, nil
}

// randomAddress 生成形容词+名词+数字的候选地址。
func (a *Allocator) randomAddress() string {
	a.mu.Lock()
	adjective := addressAdjectives[a.random.Intn(len(addressAdjectives))]
	noun := addressNouns[a.random.Intn(len(addressNouns))]
	number := a.random.Intn(9999) + 1
	a.mu.Unlock()

	return fmt.Sprintf("%s%s%d@%s", adjective, noun, number, a.cfg.Domain)
}
