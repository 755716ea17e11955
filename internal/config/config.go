package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Upload   UploadConfig   `toml:"upload"`
	Extract  ExtractConfig  `toml:"extract"`
	Resolver ResolverConfig `toml:"resolver"`
	Archive  ArchiveConfig  `toml:"archive"`
	Cache    CacheConfig    `toml:"cache"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr        string `toml:"addr"`
	DevMode     bool   `toml:"dev_mode"`
	OpenBrowser bool   `toml:"open_browser"`
}

// StorageConfig 存储配置
// driver 取 sqlite / postgres / memory
type StorageConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"` // sqlite 数据库文件
	DSN    string `toml:"dsn"`  // postgres 连接串
}

// UploadConfig 上传与扫描上限
type UploadConfig struct {
	MaxFileSize   int64 `toml:"max_file_size"` // 字节
	MaxSheets     int   `toml:"max_sheets"`
	MaxRowsScan   int   `toml:"max_rows_scan"` // 判定 sheet 有无数据的扫描窗口
	MaxColsScan   int   `toml:"max_cols_scan"`
	TrimEmptyRows bool  `toml:"trim_empty_rows"` // 开启后提取器使用的行号为裁剪后行号
}

// ExtractConfig 财务提取配置
// 应收行号与合计列取法是报表模板约定，随模板版本漂移，必须可配
type ExtractConfig struct {
	ReceivablesRow   int    `toml:"receivables_row"`   // 应收未收所在 Excel 行号，表头为第 1 行
	TotalsColumnPick string `toml:"totals_column_pick"` // second / first
	RulesFile        string `toml:"rules_file"`         // 分类关键词规则，空则用内置规则
}

// ResolverConfig 门店名归一化配置
type ResolverConfig struct {
	StripPrefixes []string `toml:"strip_prefixes"`
	StripSuffixes []string `toml:"strip_suffixes"`
}

// ArchiveConfig 上传留档配置
type ArchiveConfig struct {
	Dir string `toml:"dir"`
}

// CacheConfig 解析结果缓存配置
type CacheConfig struct {
	Capacity   int `toml:"capacity"`
	TTLSeconds int `toml:"ttl_seconds"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `toml:"level"`
}

// TTL 返回缓存存活时长
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:        ":20310",
			DevMode:     false,
			OpenBrowser: false,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "data/reports.db",
			DSN:    "",
		},
		Upload: UploadConfig{
			MaxFileSize:   50 * 1024 * 1024,
			MaxSheets:     200,
			MaxRowsScan:   1000,
			MaxColsScan:   50,
			TrimEmptyRows: false,
		},
		Extract: ExtractConfig{
			ReceivablesRow:   41,
			TotalsColumnPick: "second",
			RulesFile:        "",
		},
		Resolver: ResolverConfig{
			StripPrefixes: []string{"犀牛百货"},
			StripSuffixes: []string{"门店", "店铺", "店"},
		},
		Archive: ArchiveConfig{
			Dir: "data/uploads",
		},
		Cache: CacheConfig{
			Capacity:   64,
			TTLSeconds: 300,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig 加载配置文件，文件不存在时返回默认配置
// 环境变量在文件之后生效，便于容器部署覆盖
func LoadConfig(path string) (*AppConfig, error) {
	config := DefaultConfig()

	if path == "" {
		path = "config.toml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides 环境变量覆盖
func applyEnvOverrides(config *AppConfig) {
	if v := os.Getenv("SRS_ADDR"); v != "" {
		config.Server.Addr = v
	}
	if v := os.Getenv("SRS_STORAGE_DRIVER"); v != "" {
		config.Storage.Driver = v
	}
	if v := os.Getenv("SRS_SQLITE_PATH"); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.DSN = v
	}
	if v := os.Getenv("SRS_ARCHIVE_DIR"); v != "" {
		config.Archive.Dir = v
	}
	if v := os.Getenv("SRS_RULES_FILE"); v != "" {
		config.Extract.RulesFile = v
	}
	if v := os.Getenv("SRS_RECEIVABLES_ROW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Extract.ReceivablesRow = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
}

// Validate 校验配置取值
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("未知存储驱动: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("postgres 驱动需要配置 storage.dsn")
	}
	switch c.Extract.TotalsColumnPick {
	case "first", "second":
	default:
		return fmt.Errorf("totals_column_pick 只支持 first/second: %s", c.Extract.TotalsColumnPick)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size 必须为正数")
	}
	if c.Upload.MaxSheets <= 0 {
		return fmt.Errorf("max_sheets 必须为正数")
	}
	if c.Extract.ReceivablesRow <= 0 {
		return fmt.Errorf("receivables_row 必须为正数")
	}
	return nil
}

// SaveConfig 保存配置
func SaveConfig(config *AppConfig, path string) error {
	if path == "" {
		path = "config.toml"
	}
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
