package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fademail/backend/internal/domain"
	"fademail/backend/internal/monitoring"
)

// Reaper 周期性删除过期或停用的邮箱。
type Reaper struct {
	store    domain.Store
	interval time.Duration
	log      *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewReaper 创建过期清理器。
func NewReaper(store domain.Store, interval time.Duration, log *zap.Logger, metrics *monitoring.Metrics) *Reaper {
	return &Reaper{
		store:    store,
		interval: interval,
		log:      log,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run 按固定周期执行清扫，直到 ctx 取消。
//
// 单次清扫失败只记日志，定时器继续走，下一个周期独立重试。
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("expiry reaper started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("expiry reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(); err != nil {
				r.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 执行一次清扫，返回删除的邮箱数量。
//
// 对已干净的存储是幂等的空操作，只能通过返回值观察到。
func (r *Reaper) Sweep() (int, error) {
	now := r.now()
	deleted, err := r.store.DeleteExpiredMailboxes(now)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		r.log.Info("expired mailboxes reaped", zap.Int("deleted", deleted))
	}

	if r.metrics != nil {
		r.metrics.MailboxesReaped.Add(float64(deleted))
		if active, err := r.store.CountActiveMailboxes(now); err == nil {
			r.metrics.MailboxesActive.Set(float64(active))
		}
	}

	return deleted, nil
}
