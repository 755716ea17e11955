package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ginkii/store-report-system-sub000/internal/model"
)

var (
	// ErrStoreNotFound 门店不存在
	ErrStoreNotFound = errors.New("store not found")
	// ErrReportNotFound 指定期间的报表记录不存在
	ErrReportNotFound = errors.New("report not found")
	// ErrPermissionNotFound 查询码未登记
	ErrPermissionNotFound = errors.New("permission not found")
)

// DefaultMaxPeriods 查询报表时默认返回的最近期数
const DefaultMaxPeriods = 12

// Store 数据存储层
// 三个实现共享同一语义：报表按 (store_id, period) 整体替换，
// 权限按 query_code 覆盖写，门店档案只追加不删除。
type Store interface {
	// 门店档案
	SaveStore(ctx context.Context, st *model.StoreIdentity) error
	GetStore(ctx context.Context, id string) (*model.StoreIdentity, error)
	FindStoreByName(ctx context.Context, canonicalName string) (*model.StoreIdentity, error)
	ListStores(ctx context.Context) ([]*model.StoreIdentity, error)

	// 报表记录
	UpsertReport(ctx context.Context, rec *model.ReportRecord) error
	ReplaceAllForPeriod(ctx context.Context, period string, recs []*model.ReportRecord) error
	GetReport(ctx context.Context, storeID, period string) (*model.ReportRecord, error)
	// GetReports 查询门店报表，periods 为空时不做期间过滤；
	// 结果按期间倒序，最多 limit 条，limit <= 0 时取 DefaultMaxPeriods
	GetReports(ctx context.Context, storeID string, periods []string, limit int) ([]*model.ReportRecord, error)
	GetAvailablePeriods(ctx context.Context, storeID string) ([]string, error)

	// 查询权限
	UpsertPermission(ctx context.Context, entry *model.PermissionEntry) error
	GetPermission(ctx context.Context, queryCode string) (*model.PermissionEntry, error)
	ListPermissions(ctx context.Context) ([]*model.PermissionEntry, error)

	// 查询统计
	BumpQueryStats(ctx context.Context, storeID string) error
	GetQueryStats(ctx context.Context, storeID string) (*model.QueryStats, error)

	// 上传留档
	InsertUploadLog(ctx context.Context, log *model.UploadLog) error
	ListUploadLogs(ctx context.Context, limit int) ([]*model.UploadLog, error)

	// 系统统计
	Stats(ctx context.Context) (*model.SystemStats, error)

	Close() error
}

// Open 按驱动名打开存储
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(path)
	case "postgres":
		return NewPostgres(ctx, dsn)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
