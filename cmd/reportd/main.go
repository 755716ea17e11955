package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ginkii/store-report-system-sub000/internal/archive"
	"github.com/ginkii/store-report-system-sub000/internal/cache"
	"github.com/ginkii/store-report-system-sub000/internal/config"
	"github.com/ginkii/store-report-system-sub000/internal/excel"
	"github.com/ginkii/store-report-system-sub000/internal/export"
	"github.com/ginkii/store-report-system-sub000/internal/extract"
	"github.com/ginkii/store-report-system-sub000/internal/importer"
	"github.com/ginkii/store-report-system-sub000/internal/permission"
	"github.com/ginkii/store-report-system-sub000/internal/resolve"
	"github.com/ginkii/store-report-system-sub000/internal/server"
	"github.com/ginkii/store-report-system-sub000/internal/store"
	"github.com/ginkii/store-report-system-sub000/internal/util"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (默认 config.toml)")
	addr       = flag.String("addr", "", "监听地址 (覆盖配置文件)")
	devMode    = flag.Bool("dev", false, "开发模式")
)

func main() {
	flag.Parse()

	fmt.Println("==========================================")
	fmt.Println("  门店报表查询系统")
	fmt.Println("==========================================")

	// .env 先于配置加载，容器部署时由环境变量覆盖配置文件
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 命令行参数覆盖配置
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *devMode {
		cfg.Server.DevMode = true
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		logger.Error("初始化存储失败", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	fmt.Printf("存储驱动: %s\n", cfg.Storage.Driver)

	rules, err := extract.LoadRules(cfg.Extract.RulesFile)
	if err != nil {
		logger.Error("加载提取规则失败", "file", cfg.Extract.RulesFile, "error", err)
		os.Exit(1)
	}

	arch, err := archive.New(cfg.Archive.Dir)
	if err != nil {
		logger.Error("初始化上传留档目录失败", "dir", cfg.Archive.Dir, "error", err)
		os.Exit(1)
	}

	resolver := resolve.New(st, cfg.Resolver.StripPrefixes, cfg.Resolver.StripSuffixes, logger)
	extractor := extract.NewExtractor(rules, extract.Options{
		ReceivablesRow:   cfg.Extract.ReceivablesRow,
		TotalsColumnPick: cfg.Extract.TotalsColumnPick,
	}, logger)

	coordinator := importer.NewCoordinator(st, resolver, extractor, importer.Config{
		Limits: excel.Limits{
			MaxFileSize: cfg.Upload.MaxFileSize,
			MaxSheets:   cfg.Upload.MaxSheets,
			MaxRowsScan: cfg.Upload.MaxRowsScan,
			MaxColsScan: cfg.Upload.MaxColsScan,
		},
		TrimEmptyRows: cfg.Upload.TrimEmptyRows,
		Archive:       arch,
		Logger:        logger,
	})

	srv := server.NewServer(cfg, server.Deps{
		Store:       st,
		Coordinator: coordinator,
		Permissions: permission.NewManager(st, resolver, logger),
		Exporter:    export.NewExporter(st),
		Cache:       cache.New(cfg.Cache.Capacity, cfg.Cache.TTL()),
		Logger:      logger,
	})

	url := fmt.Sprintf("http://localhost%s", cfg.Server.Addr)

	// 启动服务器
	go func() {
		fmt.Printf("服务启动中，监听 %s ...\n", cfg.Server.Addr)
		if err := srv.Run(cfg.Server.Addr); err != nil {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 打开浏览器
	if cfg.Server.OpenBrowser && !cfg.Server.DevMode {
		fmt.Printf("正在打开浏览器: %s\n", url)
		if err := util.OpenBrowserWithFallback(url); err != nil {
			fmt.Printf("无法自动打开浏览器，请手动访问: %s\n", url)
		}
	} else {
		fmt.Printf("请访问 %s\n", url)
	}

	fmt.Println("\n按 Ctrl+C 停止服务...")

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n正在关闭服务...")
	logger.Info("服务停止")
}

// newLogger 按配置级别构造 JSON 日志器
func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}
