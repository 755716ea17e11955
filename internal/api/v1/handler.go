package v1

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ginkii/store-report-system-sub000/internal/cache"
	"github.com/ginkii/store-report-system-sub000/internal/excel"
	"github.com/ginkii/store-report-system-sub000/internal/export"
	"github.com/ginkii/store-report-system-sub000/internal/importer"
	"github.com/ginkii/store-report-system-sub000/internal/permission"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

// Handler 门店报表系统 API 处理器
type Handler struct {
	store       store.Store
	coordinator *importer.Coordinator
	permissions *permission.Manager
	exporter    *export.Exporter
	cache       *cache.Cache
	logger      *slog.Logger
	maxUpload   int64
}

// Options API 依赖与配置
type Options struct {
	Store       store.Store
	Coordinator *importer.Coordinator
	Permissions *permission.Manager
	Exporter    *export.Exporter
	Cache       *cache.Cache
	MaxUpload   int64 // 上传字节上限
	Logger      *slog.Logger
}

// NewHandler 创建 API 处理器
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = excel.DefaultLimits().MaxFileSize
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(64, 5*time.Minute)
	}
	return &Handler{
		store:       opts.Store,
		coordinator: opts.Coordinator,
		permissions: opts.Permissions,
		exporter:    opts.Exporter,
		cache:       opts.Cache,
		logger:      opts.Logger,
		maxUpload:   opts.MaxUpload,
	}
}

// RegisterRoutes 注册 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Healthz)

	// 管理端：上传与留档
	router.POST("/reports/upload", h.UploadReports)
	router.POST("/permissions/upload", h.UploadPermissions)
	router.GET("/permissions", h.ListPermissions)
	router.GET("/uploads", h.ListUploads)
	router.GET("/stats", h.GetStats)

	// 门店端：查询码验证与报表查询
	router.POST("/auth/verify", h.VerifyQueryCode)
	router.GET("/stores", h.ListStores)
	router.GET("/stores/:id/reports", h.QueryReports)
	router.GET("/stores/:id/periods", h.ListPeriods)
	router.GET("/exports/:id/:filename", h.DownloadExport)
}
