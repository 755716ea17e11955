package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	v1 "github.com/ginkii/store-report-system-sub000/internal/api/v1"
	"github.com/ginkii/store-report-system-sub000/internal/cache"
	"github.com/ginkii/store-report-system-sub000/internal/config"
	"github.com/ginkii/store-report-system-sub000/internal/export"
	"github.com/ginkii/store-report-system-sub000/internal/importer"
	"github.com/ginkii/store-report-system-sub000/internal/permission"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

// Deps 服务器依赖，由 main 装配完成后注入
type Deps struct {
	Store       store.Store
	Coordinator *importer.Coordinator
	Permissions *permission.Manager
	Exporter    *export.Exporter
	Cache       *cache.Cache
	Logger      *slog.Logger
}

// Server HTTP服务器
type Server struct {
	router *gin.Engine
	logger *slog.Logger
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router: gin.New(),
		logger: logger,
	}
	s.router.Use(gin.Recovery())
	s.router.Use(requestLog(logger))

	s.setupRoutes(cfg, deps)

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(cfg *config.AppConfig, deps Deps) {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := v1.NewHandler(v1.Options{
		Store:       deps.Store,
		Coordinator: deps.Coordinator,
		Permissions: deps.Permissions,
		Exporter:    deps.Exporter,
		Cache:       deps.Cache,
		MaxUpload:   cfg.Upload.MaxFileSize,
		Logger:      s.logger,
	})

	// V1 API 路由
	api := s.router.Group("/api/v1")
	{
		handler.RegisterRoutes(api)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "接口不存在"})
	})
}

// requestLog 每个请求一条结构化日志，请求 id 同时回写响应头
func requestLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		logger.Info("http 请求",
			"requestId", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String(),
		)
	}
}

// Run 启动服务器
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
