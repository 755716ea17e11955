package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ginkii/store-report-system-sub000/internal/model"
)

// MemoryStore 内存数据存储，用于测试和演示模式
type MemoryStore struct {
	mu          sync.RWMutex
	stores      map[string]*model.StoreIdentity
	reports     map[string]*model.ReportRecord // key: storeID + "/" + period
	permissions map[string]*model.PermissionEntry
	queryStats  map[string]*model.QueryStats
	uploadLogs  []*model.UploadLog
}

var _ Store = (*MemoryStore)(nil)

// NewMemory 创建内存存储
func NewMemory() *MemoryStore {
	return &MemoryStore{
		stores:      make(map[string]*model.StoreIdentity),
		reports:     make(map[string]*model.ReportRecord),
		permissions: make(map[string]*model.PermissionEntry),
		queryStats:  make(map[string]*model.QueryStats),
	}
}

// Close 实现 Store 接口，无资源可释放
func (s *MemoryStore) Close() error {
	return nil
}

func reportKey(storeID, period string) string {
	return storeID + "/" + period
}

// SaveStore 保存门店档案，按 id 覆盖写
func (s *MemoryStore) SaveStore(ctx context.Context, st *model.StoreIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stores[st.ID] = st
	return nil
}

// GetStore 按 id 获取门店
func (s *MemoryStore) GetStore(ctx context.Context, id string) (*model.StoreIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return nil, ErrStoreNotFound
	}
	return st, nil
}

// FindStoreByName 按规范名精确查找门店
func (s *MemoryStore) FindStoreByName(ctx context.Context, canonicalName string) (*model.StoreIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.stores {
		if st.CanonicalName == canonicalName {
			return st, nil
		}
	}
	return nil, ErrStoreNotFound
}

// ListStores 列出全部门店，按规范名排序
func (s *MemoryStore) ListStores(ctx context.Context) ([]*model.StoreIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.StoreIdentity, 0, len(s.stores))
	for _, st := range s.stores {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CanonicalName < result[j].CanonicalName
	})
	return result, nil
}

// UpsertReport 写入报表记录，同 (store_id, period) 整体替换
func (s *MemoryStore) UpsertReport(ctx context.Context, rec *model.ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[reportKey(rec.StoreID, rec.Period)] = rec
	return nil
}

// ReplaceAllForPeriod 清空该期间的全部记录后批量写入
func (s *MemoryStore) ReplaceAllForPeriod(ctx context.Context, period string, recs []*model.ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.reports {
		if rec.Period == period {
			delete(s.reports, key)
		}
	}
	for _, rec := range recs {
		s.reports[reportKey(rec.StoreID, rec.Period)] = rec
	}
	return nil
}

// GetReport 获取门店指定期间的报表
func (s *MemoryStore) GetReport(ctx context.Context, storeID, period string) (*model.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.reports[reportKey(storeID, period)]
	if !ok {
		return nil, ErrReportNotFound
	}
	return rec, nil
}

// GetReports 获取门店报表，periods 为空时取全部期间，按期间倒序截到 limit
func (s *MemoryStore) GetReports(ctx context.Context, storeID string, periods []string, limit int) ([]*model.ReportRecord, error) {
	if limit <= 0 {
		limit = DefaultMaxPeriods
	}

	var want map[string]bool
	if len(periods) > 0 {
		want = make(map[string]bool, len(periods))
		for _, p := range periods {
			want[p] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.ReportRecord
	for _, rec := range s.reports {
		if rec.StoreID != storeID {
			continue
		}
		if want != nil && !want[rec.Period] {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Period > result[j].Period
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetAvailablePeriods 获取门店有报表的期间，倒序
func (s *MemoryStore) GetAvailablePeriods(ctx context.Context, storeID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var periods []string
	for _, rec := range s.reports {
		if rec.StoreID == storeID {
			periods = append(periods, rec.Period)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))
	return periods, nil
}

// UpsertPermission 写入查询码映射，重复 query_code 覆盖
func (s *MemoryStore) UpsertPermission(ctx context.Context, entry *model.PermissionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.permissions[entry.QueryCode] = entry
	return nil
}

// GetPermission 按查询码获取映射
func (s *MemoryStore) GetPermission(ctx context.Context, queryCode string) (*model.PermissionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.permissions[queryCode]
	if !ok {
		return nil, ErrPermissionNotFound
	}
	return entry, nil
}

// ListPermissions 列出全部查询码映射
func (s *MemoryStore) ListPermissions(ctx context.Context) ([]*model.PermissionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.PermissionEntry, 0, len(s.permissions))
	for _, entry := range s.permissions {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].QueryCode < result[j].QueryCode
	})
	return result, nil
}

// BumpQueryStats 查询计数加一并刷新时间
func (s *MemoryStore) BumpQueryStats(ctx context.Context, storeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.queryStats[storeID]
	if !ok {
		stats = &model.QueryStats{StoreID: storeID}
		s.queryStats[storeID] = stats
	}
	stats.QueryCount++
	stats.LastQueryTime = time.Now()
	return nil
}

// GetQueryStats 获取门店查询统计
func (s *MemoryStore) GetQueryStats(ctx context.Context, storeID string) (*model.QueryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.queryStats[storeID]
	if !ok {
		return &model.QueryStats{StoreID: storeID}, nil
	}
	return stats, nil
}

// InsertUploadLog 写入上传留档
func (s *MemoryStore) InsertUploadLog(ctx context.Context, log *model.UploadLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadLogs = append(s.uploadLogs, log)
	return nil
}

// ListUploadLogs 按上传时间倒序列出留档
func (s *MemoryStore) ListUploadLogs(ctx context.Context, limit int) ([]*model.UploadLog, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.UploadLog, len(s.uploadLogs))
	copy(result, s.uploadLogs)
	sort.Slice(result, func(i, j int) bool {
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats 汇总系统统计
func (s *MemoryStore) Stats(ctx context.Context) (*model.SystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.SystemStats{
		StoreCount:      len(s.stores),
		RecordCount:     len(s.reports),
		PermissionCount: len(s.permissions),
	}
	for _, qs := range s.queryStats {
		stats.TotalQueries += qs.QueryCount
	}
	for _, l := range s.uploadLogs {
		if l.UploadedAt.After(stats.LastUploadAt) {
			stats.LastUploadAt = l.UploadedAt
		}
	}
	return stats, nil
}
