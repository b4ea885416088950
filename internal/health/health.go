package health

import (
	"errors"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"fademail/backend/internal/domain"
)

// IngestStatus 报告摄取循环是否已停摆。
type IngestStatus interface {
	Fatal() bool
}

// Checker 聚合存活与就绪探针。
//
// 存活探针只看存储连接；就绪探针额外要求摄取循环未进入
// 致命状态，重连耗尽的实例会被摘出流量等待重启。
type Checker struct {
	health healthcheck.Handler
	store  domain.Store
	ingest IngestStatus
	log    *zap.Logger
}

// NewChecker 创建健康检查器。ingest 传 nil 表示不检查摄取循环
// （SMTP 直投模式没有重连状态机）。
func NewChecker(store domain.Store, ingest IngestStatus, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}

	c := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		ingest: ingest,
		log:    log,
	}
	c.addChecks()
	return c
}

func (c *Checker) addChecks() {
	c.health.AddLivenessCheck("store", func() error {
		return c.store.Health()
	})

	c.health.AddReadinessCheck("store", func() error {
		return c.store.Health()
	})

	if c.ingest != nil {
		c.health.AddReadinessCheck("mail-source", func() error {
			if c.ingest.Fatal() {
				return errors.New("ingestion loop fatal: reconnect attempts exhausted")
			}
			return nil
		})
	}
}

// Handler 返回完整健康检查处理器（/health）
func (c *Checker) Handler() healthcheck.Handler {
	return c.health
}
