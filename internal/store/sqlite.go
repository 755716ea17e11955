package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ginkii/store-report-system-sub000/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore SQLite 数据库存储层
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite 创建 SQLite 存储实例
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	// 确保 data 目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite 建议单连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema 初始化数据库结构
func (s *SQLiteStore) initSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	if _, err := s.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB 获取原始数据库连接（用于事务等高级操作）
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SaveStore 保存门店档案，按 id 覆盖写
func (s *SQLiteStore) SaveStore(ctx context.Context, st *model.StoreIdentity) error {
	aliases, err := json.Marshal(st.Aliases)
	if err != nil {
		return fmt.Errorf("failed to marshal aliases: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stores (id, canonical_name, short_code, aliases, region, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			short_code     = excluded.short_code,
			aliases        = excluded.aliases,
			region         = excluded.region,
			status         = excluded.status,
			updated_at     = excluded.updated_at
	`, st.ID, st.CanonicalName, st.ShortCode, string(aliases), st.Region, string(st.Status), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save store: %w", err)
	}

	return nil
}

// GetStore 按 id 获取门店
func (s *SQLiteStore) GetStore(ctx context.Context, id string) (*model.StoreIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, canonical_name, short_code, aliases, region, status, created_at, updated_at
		FROM stores WHERE id = ?
	`, id)
	return scanStoreIdentity(row)
}

// FindStoreByName 按规范名精确查找门店
func (s *SQLiteStore) FindStoreByName(ctx context.Context, canonicalName string) (*model.StoreIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, canonical_name, short_code, aliases, region, status, created_at, updated_at
		FROM stores WHERE canonical_name = ?
	`, canonicalName)
	return scanStoreIdentity(row)
}

// ListStores 列出全部门店，按规范名排序
func (s *SQLiteStore) ListStores(ctx context.Context) ([]*model.StoreIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_name, short_code, aliases, region, status, created_at, updated_at
		FROM stores ORDER BY canonical_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores: %w", err)
	}
	defer rows.Close()

	var result []*model.StoreIdentity
	for rows.Next() {
		st, err := scanStoreIdentity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// rowScanner sql.Row 和 sql.Rows 的公共扫描面
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStoreIdentity(row rowScanner) (*model.StoreIdentity, error) {
	var st model.StoreIdentity
	var aliases, status string
	err := row.Scan(&st.ID, &st.CanonicalName, &st.ShortCode, &aliases, &st.Region, &status, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}
	if err := json.Unmarshal([]byte(aliases), &st.Aliases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aliases: %w", err)
	}
	st.Status = model.StoreStatus(status)
	return &st, nil
}

const reportUpsertSQL = `
	INSERT INTO report_records (id, store_id, period, sheet_name, headers, raw_rows, fields, uploaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(store_id, period) DO UPDATE SET
		id          = excluded.id,
		sheet_name  = excluded.sheet_name,
		headers     = excluded.headers,
		raw_rows    = excluded.raw_rows,
		fields      = excluded.fields,
		uploaded_at = excluded.uploaded_at
`

// UpsertReport 写入报表记录，同 (store_id, period) 整体替换
func (s *SQLiteStore) UpsertReport(ctx context.Context, rec *model.ReportRecord) error {
	headers, rawRows, fields, err := marshalReportColumns(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, reportUpsertSQL,
		rec.ID, rec.StoreID, rec.Period, rec.SheetName, headers, rawRows, fields, rec.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert report: %w", err)
	}
	return nil
}

// ReplaceAllForPeriod 清空该期间的全部记录后批量写入
func (s *SQLiteStore) ReplaceAllForPeriod(ctx context.Context, period string, recs []*model.ReportRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_records WHERE period = ?`, period); err != nil {
		return fmt.Errorf("failed to clear period: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, reportUpsertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		headers, rawRows, fields, err := marshalReportColumns(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.StoreID, rec.Period, rec.SheetName, headers, rawRows, fields, rec.UploadedAt); err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetReport 获取门店指定期间的报表
func (s *SQLiteStore) GetReport(ctx context.Context, storeID, period string) (*model.ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, period, sheet_name, headers, raw_rows, fields, uploaded_at
		FROM report_records WHERE store_id = ? AND period = ?
	`, storeID, period)
	return scanReportRecord(row)
}

// GetReports 获取门店最近若干期报表，按期间倒序
func (s *SQLiteStore) GetReports(ctx context.Context, storeID string, periods []string, limit int) ([]*model.ReportRecord, error) {
	if limit <= 0 {
		limit = DefaultMaxPeriods
	}

	query := `
		SELECT id, store_id, period, sheet_name, headers, raw_rows, fields, uploaded_at
		FROM report_records WHERE store_id = ?`
	args := []interface{}{storeID}
	if len(periods) > 0 {
		query += " AND period IN (?" + strings.Repeat(",?", len(periods)-1) + ")"
		for _, p := range periods {
			args = append(args, p)
		}
	}
	query += " ORDER BY period DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var result []*model.ReportRecord
	for rows.Next() {
		rec, err := scanReportRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// GetAvailablePeriods 获取门店有报表的期间，倒序
func (s *SQLiteStore) GetAvailablePeriods(ctx context.Context, storeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT period FROM report_records WHERE store_id = ? ORDER BY period DESC
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func marshalReportColumns(rec *model.ReportRecord) (headers, rawRows, fields string, err error) {
	h, err := json.Marshal(rec.Headers)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal headers: %w", err)
	}
	r, err := json.Marshal(rec.RawRows)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal raw rows: %w", err)
	}
	f, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(h), string(r), string(f), nil
}

func scanReportRecord(row rowScanner) (*model.ReportRecord, error) {
	var rec model.ReportRecord
	var headers, rawRows, fields string
	err := row.Scan(&rec.ID, &rec.StoreID, &rec.Period, &rec.SheetName, &headers, &rawRows, &fields, &rec.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &rec.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}
	if err := json.Unmarshal([]byte(rawRows), &rec.RawRows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw rows: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return &rec, nil
}

// UpsertPermission 写入查询码映射，重复 query_code 覆盖
func (s *SQLiteStore) UpsertPermission(ctx context.Context, entry *model.PermissionEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (query_code, store_id, store_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query_code) DO UPDATE SET
			store_id   = excluded.store_id,
			store_name = excluded.store_name,
			updated_at = excluded.updated_at
	`, entry.QueryCode, entry.StoreID, entry.StoreName, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

// GetPermission 按查询码获取映射
func (s *SQLiteStore) GetPermission(ctx context.Context, queryCode string) (*model.PermissionEntry, error) {
	var entry model.PermissionEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT query_code, store_id, store_name, updated_at FROM permissions WHERE query_code = ?
	`, queryCode).Scan(&entry.QueryCode, &entry.StoreID, &entry.StoreName, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission: %w", err)
	}
	return &entry, nil
}

// ListPermissions 列出全部查询码映射
func (s *SQLiteStore) ListPermissions(ctx context.Context) ([]*model.PermissionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_code, store_id, store_name, updated_at FROM permissions ORDER BY query_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var result []*model.PermissionEntry
	for rows.Next() {
		var entry model.PermissionEntry
		if err := rows.Scan(&entry.QueryCode, &entry.StoreID, &entry.StoreName, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		result = append(result, &entry)
	}
	return result, rows.Err()
}

// BumpQueryStats 查询计数加一并刷新时间
func (s *SQLiteStore) BumpQueryStats(ctx context.Context, storeID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_stats (store_id, query_count, last_query_time)
		VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(store_id) DO UPDATE SET
			query_count     = query_stats.query_count + 1,
			last_query_time = CURRENT_TIMESTAMP
	`, storeID)
	if err != nil {
		return fmt.Errorf("failed to bump query stats: %w", err)
	}
	return nil
}

// GetQueryStats 获取门店查询统计
func (s *SQLiteStore) GetQueryStats(ctx context.Context, storeID string) (*model.QueryStats, error) {
	var stats model.QueryStats
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, query_count, last_query_time FROM query_stats WHERE store_id = ?
	`, storeID).Scan(&stats.StoreID, &stats.QueryCount, &last)
	if err == sql.ErrNoRows {
		return &model.QueryStats{StoreID: storeID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan query stats: %w", err)
	}
	if last.Valid {
		stats.LastQueryTime = last.Time
	}
	return &stats, nil
}

// InsertUploadLog 写入上传留档
func (s *SQLiteStore) InsertUploadLog(ctx context.Context, log *model.UploadLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_logs (id, filename, archived_as, period, file_size, total_sheets, success_count, failed_count, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.Filename, log.ArchivedAs, log.Period, log.FileSize, log.TotalSheets, log.SuccessCount, log.FailedCount, log.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload log: %w", err)
	}
	return nil
}

// ListUploadLogs 按上传时间倒序列出留档
func (s *SQLiteStore) ListUploadLogs(ctx context.Context, limit int) ([]*model.UploadLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, archived_as, period, file_size, total_sheets, success_count, failed_count, uploaded_at
		FROM upload_logs ORDER BY uploaded_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload logs: %w", err)
	}
	defer rows.Close()

	var result []*model.UploadLog
	for rows.Next() {
		var l model.UploadLog
		if err := rows.Scan(&l.ID, &l.Filename, &l.ArchivedAs, &l.Period, &l.FileSize,
			&l.TotalSheets, &l.SuccessCount, &l.FailedCount, &l.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload log: %w", err)
		}
		result = append(result, &l)
	}
	return result, rows.Err()
}

// Stats 汇总系统统计
func (s *SQLiteStore) Stats(ctx context.Context) (*model.SystemStats, error) {
	var stats model.SystemStats

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores`).Scan(&stats.StoreCount); err != nil {
		return nil, fmt.Errorf("failed to count stores: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_records`).Scan(&stats.RecordCount); err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&stats.PermissionCount); err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(query_count), 0) FROM query_stats`).Scan(&stats.TotalQueries); err != nil {
		return nil, fmt.Errorf("failed to sum query stats: %w", err)
	}

	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT uploaded_at FROM upload_logs ORDER BY uploaded_at DESC LIMIT 1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query last upload: %w", err)
	}
	if last.Valid {
		stats.LastUploadAt = last.Time
	}

	return &stats, nil
}
