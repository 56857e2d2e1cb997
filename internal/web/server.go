package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"llm-scheduler/config"
	"llm-scheduler/internal/events"
	"llm-scheduler/internal/profile"
	"llm-scheduler/internal/scheduler"
	"llm-scheduler/internal/tracking"
)

// WebServer 管理后台接口服务
// 暴露账号调度状态查询、手动重置和SSE事件流
type WebServer struct {
	server    *http.Server
	engine    *gin.Engine
	logger    *slog.Logger
	config    *config.Config
	registry  *scheduler.Registry
	resolver  *scheduler.Resolver
	store     profile.Store
	tracker   *tracking.OutcomeTracker // nil when tracking disabled
	eventBus  events.EventBus
	sse       *SSEHub
	startTime time.Time
}

// NewWebServer creates a new Web server
func NewWebServer(cfg *config.Config, registry *scheduler.Registry, resolver *scheduler.Resolver, store profile.Store, tracker *tracking.OutcomeTracker, eventBus events.EventBus, logger *slog.Logger, startTime time.Time) *WebServer {
	// 设置gin为release模式以减少日志输出
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(ginLoggerMiddleware(logger))
	engine.Use(gin.Recovery())

	ws := &WebServer{
		engine:    engine,
		logger:    logger,
		config:    cfg,
		registry:  registry,
		resolver:  resolver,
		store:     store,
		tracker:   tracker,
		eventBus:  eventBus,
		sse:       NewSSEHub(logger),
		startTime: startTime,
	}

	ws.setupRoutes()

	if eventBus != nil {
		eventBus.SetSSEBroadcaster(ws.sse)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	ws.server = &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	return ws
}

// setupRoutes 注册管理接口路由
func (ws *WebServer) setupRoutes() {
	api := ws.engine.Group("/api/v1")
	{
		api.GET("/providers", ws.handleProviders)
		api.GET("/providers/:name/profiles", ws.handleProviderProfiles)
		api.GET("/providers/:name/order", ws.handleOrderPreview)
		api.POST("/providers/:name/profiles/:id/reset", ws.handleProfileReset)
		api.GET("/stats", ws.handleStats)
		api.GET("/usage/summary", ws.handleUsageSummary)
		api.GET("/events", ws.handleSSE)
	}

	ws.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Start 启动Web服务器
func (ws *WebServer) Start() error {
	ws.logger.Info(fmt.Sprintf("🌐 Web管理接口已启动: http://%s", ws.server.Addr))

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error(fmt.Sprintf("❌ Web服务器运行失败: %s", err))
		}
	}()

	return nil
}

// Stop 优雅停止Web服务器
func (ws *WebServer) Stop(ctx context.Context) error {
	ws.logger.Info("🌐 正在停止Web管理接口...")
	ws.sse.Close()
	return ws.server.Shutdown(ctx)
}

// ginLoggerMiddleware 将gin访问日志接入slog
func ginLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 只记录非SSE请求，SSE连接的日志由处理器自己记录
		if c.Writer.Status() >= 400 {
			logger.Warn("Web请求失败",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
				"duration", time.Since(start))
		}
	}
}
