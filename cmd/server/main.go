package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fademail/backend/internal/config"
	"fademail/backend/internal/domain"
	"fademail/backend/internal/health"
	"fademail/backend/internal/imap"
	"fademail/backend/internal/ingest"
	"fademail/backend/internal/logger"
	"fademail/backend/internal/monitoring"
	"fademail/backend/internal/service"
	"fademail/backend/internal/smtp"
	"fademail/backend/internal/storage/memory"
	redisstorage "fademail/backend/internal/storage/redis"
	sqlstorage "fademail/backend/internal/storage/sql"
	httptransport "fademail/backend/internal/transport/http"
	"fademail/backend/internal/websocket"
)

// main 启动临时邮箱服务：HTTP API、WebSocket 推送与邮件接入循环。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   100,
		MaxBackups:  3,
		MaxAgeDays:  28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting fademail server",
		zap.String("mailbox_domain", cfg.Mailbox.Domain),
		zap.Duration("mailbox_ttl", cfg.Mailbox.TTL),
		zap.String("mail_mode", cfg.Mail.Mode),
		zap.String("log_level", cfg.Log.Level),
	)

	// 初始化存储层
	store, err := buildStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// WebSocket Hub：会话注册与新邮件推送
	hub := websocket.NewHub(cfg.CORS.AllowedOrigins, log, metrics)

	// 服务层
	allocator := service.NewAllocator(store, &cfg.Mailbox, log)
	messages := service.NewMessageService(store, log)
	reaper := service.NewReaper(store, cfg.Mailbox.ReaperInterval, log, metrics)

	// 邮件接入管线：解析、匹配、落库、推送
	pipeline := ingest.NewPipeline(store, hub, log, metrics)

	// 根据模式装配邮件源
	var (
		loop       *ingest.Loop
		smtpServer *gosmtp.Server
	)
	switch cfg.Mail.Mode {
	case "imap":
		source := imap.NewSource(&cfg.Mail.IMAP, log)
		loop = ingest.NewLoop(
			source,
			pipeline,
			cfg.Mail.IMAP.ReconnectMaxAttempts,
			cfg.Mail.IMAP.ReconnectBackoff,
			log,
			metrics,
		)
	case "smtp":
		backend := smtp.NewBackend(store, pipeline, cfg.Mailbox.Domain, log)
		smtpServer = smtp.NewServer(backend, &cfg.Mail.SMTP)
	}

	// 健康检查：SMTP 模式没有重连状态机，ingest 传 nil
	var ingestStatus health.IngestStatus
	if loop != nil {
		ingestStatus = loop
	}
	checker := health.NewChecker(store, ingestStatus, log)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:    cfg,
		Allocator: allocator,
		Messages:  messages,
		Hub:       hub,
		Health:    checker,
		Metrics:   metrics,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 邮件源 goroutine
	switch {
	case loop != nil:
		group.Go(func() error {
			log.Info("starting mail ingestion loop",
				zap.String("host", cfg.Mail.IMAP.Host),
				zap.Int("port", cfg.Mail.IMAP.Port),
			)
			if err := loop.Run(groupCtx); err != nil {
				// 致命失败后不再自动重试：保持 HTTP 在线，由就绪探针暴露给运维
				log.Error("mail ingestion loop terminated", zap.Error(err))
			}
			return nil
		})
	case smtpServer != nil:
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.Mail.SMTP.BindAddr),
				zap.String("domain", cfg.Mail.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 过期邮箱回收 goroutine
	group.Go(func() error {
		reaper.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}
		hub.Shutdown()

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		log.Warn("storage close warning", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// buildStore 根据配置装配存储层：数据库或内存，外加可选的 Redis 缓存。
func buildStore(cfg *config.Config, log *zap.Logger) (domain.Store, error) {
	var store domain.Store

	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		sqlStore, err := sqlstorage.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			return nil, err
		}
		store = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage")
	}

	if cfg.Redis.Address != "" {
		cached, err := redisstorage.NewCachedStore(store, &cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		store = cached
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
	}

	return store, nil
}
