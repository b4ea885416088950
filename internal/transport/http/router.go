package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fademail/backend/internal/config"
	"fademail/backend/internal/health"
	"fademail/backend/internal/middleware"
	"fademail/backend/internal/monitoring"
	"fademail/backend/internal/service"
	"fademail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Allocator *service.Allocator
	Messages  *service.MessageService
	Hub       *websocket.Hub
	Health    *health.Checker
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时必须关闭凭证支持
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.Allocator, deps.Messages, deps.Metrics, deps.Logger)

	api := router.Group("/api")
	{
		api.POST("/mailbox", handler.CreateMailbox)
		api.GET("/mailbox/:address/messages", handler.ListMessages)
		api.PATCH("/message/:id/read", handler.MarkMessageRead)
	}

	router.GET("/ws", websocket.HandleWebSocket(deps.Hub))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		healthHandler := deps.Health.Handler()
		router.GET("/health/live", gin.WrapF(healthHandler.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(healthHandler.ReadyEndpoint))
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	return router
}
