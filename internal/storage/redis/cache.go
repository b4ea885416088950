// Package redis 提供基于 Redis 的邮箱查找缓存。
//
// 摄取循环对每封入站邮件都要做一次"地址 -> 存活邮箱"解析，
// 缓存命中时可以省掉一次数据库往返。缓存项带短 TTL，
// 且存活判定在命中后仍然重新执行，过期邮箱不会因缓存复活。
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fademail/backend/internal/config"
	"fademail/backend/internal/domain"
)

// 缓存项 TTL。比邮箱 TTL 短得多，停用之外的失效靠它兜底。
const cacheEntryTTL = 30 * time.Second

// CachedStore 在底层 Store 之上增加按地址查找的读穿透缓存。
type CachedStore struct {
	domain.Store
	rdb *goredis.Client
	log *zap.Logger
}

// NewCachedStore 创建带 Redis 缓存的存储装饰器。
func NewCachedStore(inner domain.Store, cfg *config.RedisConfig, log *zap.Logger) (*CachedStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CachedStore{
		Store: inner,
		rdb:   rdb,
		log:   log,
	}, nil
}

func mailboxKey(address string) string {
	return fmt.Sprintf("mailbox:addr:%s", address)
}

// GetActiveMailboxByAddress 先查缓存，未命中回源并回填。
//
// 缓存故障一律降级为直接回源，只记日志不影响查找结果。
func (c *CachedStore) GetActiveMailboxByAddress(address string, now time.Time) (*domain.Mailbox, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := mailboxKey(address)
	if data, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var mailbox domain.Mailbox
		if err := json.Unmarshal([]byte(data), &mailbox); err == nil {
			// 命中后仍重新判定存活，过期邮箱表现为"查不到"
			if mailbox.Live(now) {
				return &mailbox, nil
			}
			return nil, domain.ErrMailboxNotFound
		}
	} else if !errors.Is(err, goredis.Nil) {
		c.log.Warn("mailbox cache read failed", zap.Error(err))
	}

	mailbox, err := c.Store.GetActiveMailboxByAddress(address, now)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(mailbox); err == nil {
		if err := c.rdb.Set(ctx, key, data, cacheEntryTTL).Err(); err != nil {
			c.log.Warn("mailbox cache write failed", zap.Error(err))
		}
	}
	return mailbox, nil
}

// DeactivateMailbox 停用邮箱并立即使缓存失效。
func (c *CachedStore) DeactivateMailbox(id string) error {
	mailbox, err := c.Store.GetMailbox(id)
	if err != nil {
		return err
	}
	if err := c.Store.DeactivateMailbox(id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.rdb.Del(ctx, mailboxKey(mailbox.Address)).Err(); err != nil {
		c.log.Warn("mailbox cache invalidation failed", zap.Error(err))
	}
	return nil
}

// Health 同时检查底层存储与 Redis。
func (c *CachedStore) Health() error {
	if err := c.Store.Health(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接与底层存储。
func (c *CachedStore) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Warn("failed to close Redis client", zap.Error(err))
	}
	return c.Store.Close()
}
