package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nodemesh/config"
	"nodemesh/ledger"
	"nodemesh/logger"
	"nodemesh/monitor"
	"nodemesh/notify"
	"nodemesh/registry"
	"nodemesh/report"
	"nodemesh/snapshot"
	"nodemesh/storage"
)

// Server Web 服务器
type Server struct {
	server *http.Server
	cfg    *config.Config

	registry *registry.Registry
	ledger   *ledger.Ledger
	engine   *snapshot.Engine
	coord    *report.Coordinator
	liveness *monitor.LivenessMonitor
	notifier *notify.NotificationService
	store    storage.Storage

	startTime time.Time
}

// NewServer 创建 Web 服务器
func NewServer(cfg *config.Config, reg *registry.Registry, led *ledger.Ledger, eng *snapshot.Engine,
	coord *report.Coordinator, liveness *monitor.LivenessMonitor, notifier *notify.NotificationService, store storage.Storage) *Server {
	if !cfg.Web.Enabled {
		return nil
	}

	// 设置 Gin 模式
	if cfg.System.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		registry:  reg,
		ledger:    led,
		engine:    eng,
		coord:     coord,
		liveness:  liveness,
		notifier:  notifier,
		store:     store,
		startTime: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(r *gin.Engine) {
	// Prometheus metrics 端点（供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket 实时推送
	r.GET("/ws", handleWebSocket)

	api := r.Group("/api")
	{
		// 上报入口：限流保护
		ingest := api.Group("/nodes")
		ingest.Use(rateLimiter(s.cfg.Web.RateLimit.RPS, s.cfg.Web.RateLimit.Burst))
		{
			ingest.POST("/:id/heartbeat", s.postHeartbeat)
			ingest.POST("/:id/stats", s.postStats)
		}

		// 节点
		api.GET("/nodes", s.getNodes)
		api.DELETE("/nodes/:id", s.deleteNode)
		api.GET("/nodes/:id/stats", s.getNodeStats)
		api.GET("/nodes/:id/transitions", s.getNodeTransitions)

		// 汇总快照
		api.GET("/snapshots", s.getSnapshots)
		api.GET("/snapshots/range", s.getSnapshotsRange)
		api.POST("/snapshots/recompute", s.recomputeSnapshot)

		// 主动报告
		api.POST("/reports/request", s.requestReport)
		api.GET("/nodes/:id/reports/pending", s.getPendingReport)
		api.POST("/reports/:id/consume", s.consumeReport)

		// 静音
		api.POST("/nodes/:id/mute", s.muteNode)
		api.POST("/nodes/:id/unmute", s.unmuteNode)

		// 运维
		api.POST("/stats/clear", s.clearStats)
		api.GET("/status", s.getStatus)
	}
}

// Start 启动 Web 服务器
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}

	go func() {
		logger.Info("🌐 Web 服务器启动在 http://%s", s.cfg.Web.Listen)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web 服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("❌ Web 服务器关闭失败: %v", err)
		} else {
			logger.Info("✅ Web 服务器已关闭")
		}
	}()

	return nil
}

// Stop 停止 Web 服务器
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web 服务器关闭失败: %v", err)
	}
}
