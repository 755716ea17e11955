package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ginkii/store-report-system-sub000/internal/model"
)

//go:embed schema_postgres.sql
var pgSchemaFS embed.FS

// PostgresStore PostgreSQL 数据库存储层，适用于多实例部署
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres 创建 PostgreSQL 存储实例
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema 初始化数据库结构
// 无参数的 Exec 走简单查询协议，整个脚本一次执行
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schemaSQL, err := pgSchemaFS.ReadFile("schema_postgres.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema_postgres.sql: %w", err)
	}

	if _, err := s.pool.Exec(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// SaveStore 保存门店档案，按 id 覆盖写
func (s *PostgresStore) SaveStore(ctx context.Context, st *model.StoreIdentity) error {
	aliases, err := json.Marshal(st.Aliases)
	if err != nil {
		return fmt.Errorf("failed to marshal aliases: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO stores (id, canonical_name, short_code, aliases, region, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			canonical_name = EXCLUDED.canonical_name,
			short_code     = EXCLUDED.short_code,
			aliases        = EXCLUDED.aliases,
			region         = EXCLUDED.region,
			status         = EXCLUDED.status,
			updated_at     = EXCLUDED.updated_at
	`, st.ID, st.CanonicalName, st.ShortCode, aliases, st.Region, string(st.Status), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save store: %w", err)
	}

	return nil
}

// GetStore 按 id 获取门店
func (s *PostgresStore) GetStore(ctx context.Context, id string) (*model.StoreIdentity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, canonical_name, short_code, aliases, region, status, created_at, updated_at
		FROM stores WHERE id = $1
	`, id)
	return scanPGStore(row)
}

// FindStoreByName 按规范名精确查找门店
func (s *PostgresStore) FindStoreByName(ctx context.Context, canonicalName string) (*model.StoreIdentity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, canonical_name, short_code, aliases, region, status, created_at, updated_at
		FROM stores WHERE canonical_name = $1
	`, canonicalName)
	return scanPGStore(row)
}

// ListStores 列出全部门店，按规范名排序
func (s *PostgresStore) ListStores(ctx context.Context) ([]*model.StoreIdentity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, canonical_name, short_code, aliases, region, status, created_at, updated_at
		FROM stores ORDER BY canonical_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores: %w", err)
	}
	defer rows.Close()

	var result []*model.StoreIdentity
	for rows.Next() {
		st, err := scanPGStore(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func scanPGStore(row pgx.Row) (*model.StoreIdentity, error) {
	var st model.StoreIdentity
	var aliases []byte
	var status string
	err := row.Scan(&st.ID, &st.CanonicalName, &st.ShortCode, &aliases, &st.Region, &status, &st.CreatedAt, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}
	if err := json.Unmarshal(aliases, &st.Aliases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aliases: %w", err)
	}
	st.Status = model.StoreStatus(status)
	return &st, nil
}

const pgReportUpsertSQL = `
	INSERT INTO report_records (id, store_id, period, sheet_name, headers, raw_rows, fields, uploaded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (store_id, period) DO UPDATE SET
		id          = EXCLUDED.id,
		sheet_name  = EXCLUDED.sheet_name,
		headers     = EXCLUDED.headers,
		raw_rows    = EXCLUDED.raw_rows,
		fields      = EXCLUDED.fields,
		uploaded_at = EXCLUDED.uploaded_at
`

// UpsertReport 写入报表记录，同 (store_id, period) 整体替换
func (s *PostgresStore) UpsertReport(ctx context.Context, rec *model.ReportRecord) error {
	headers, rawRows, fields, err := marshalReportColumns(rec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, pgReportUpsertSQL,
		rec.ID, rec.StoreID, rec.Period, rec.SheetName, []byte(headers), []byte(rawRows), []byte(fields), rec.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert report: %w", err)
	}
	return nil
}

// ReplaceAllForPeriod 清空该期间的全部记录后批量写入
func (s *PostgresStore) ReplaceAllForPeriod(ctx context.Context, period string, recs []*model.ReportRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM report_records WHERE period = $1`, period); err != nil {
		return fmt.Errorf("failed to clear period: %w", err)
	}

	for _, rec := range recs {
		headers, rawRows, fields, err := marshalReportColumns(rec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, pgReportUpsertSQL,
			rec.ID, rec.StoreID, rec.Period, rec.SheetName, []byte(headers), []byte(rawRows), []byte(fields), rec.UploadedAt); err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetReport 获取门店指定期间的报表
func (s *PostgresStore) GetReport(ctx context.Context, storeID, period string) (*model.ReportRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, store_id, period, sheet_name, headers, raw_rows, fields, uploaded_at
		FROM report_records WHERE store_id = $1 AND period = $2
	`, storeID, period)
	return scanPGReport(row)
}

// GetReports 获取门店最近若干期报表，按期间倒序
func (s *PostgresStore) GetReports(ctx context.Context, storeID string, periods []string, limit int) ([]*model.ReportRecord, error) {
	if limit <= 0 {
		limit = DefaultMaxPeriods
	}

	query := `
		SELECT id, store_id, period, sheet_name, headers, raw_rows, fields, uploaded_at
		FROM report_records WHERE store_id = $1`
	args := []interface{}{storeID}
	if len(periods) > 0 {
		query += " AND period = ANY($2) ORDER BY period DESC LIMIT $3"
		args = append(args, periods, limit)
	} else {
		query += " ORDER BY period DESC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var result []*model.ReportRecord
	for rows.Next() {
		rec, err := scanPGReport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// GetAvailablePeriods 获取门店有报表的期间，倒序
func (s *PostgresStore) GetAvailablePeriods(ctx context.Context, storeID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT period FROM report_records WHERE store_id = $1 ORDER BY period DESC
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

func scanPGReport(row pgx.Row) (*model.ReportRecord, error) {
	var rec model.ReportRecord
	var headers, rawRows, fields []byte
	err := row.Scan(&rec.ID, &rec.StoreID, &rec.Period, &rec.SheetName, &headers, &rawRows, &fields, &rec.UploadedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	if err := json.Unmarshal(headers, &rec.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}
	if err := json.Unmarshal(rawRows, &rec.RawRows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw rows: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return &rec, nil
}

// UpsertPermission 写入查询码映射，重复 query_code 覆盖
func (s *PostgresStore) UpsertPermission(ctx context.Context, entry *model.PermissionEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO permissions (query_code, store_id, store_name, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (query_code) DO UPDATE SET
			store_id   = EXCLUDED.store_id,
			store_name = EXCLUDED.store_name,
			updated_at = EXCLUDED.updated_at
	`, entry.QueryCode, entry.StoreID, entry.StoreName, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

// GetPermission 按查询码获取映射
func (s *PostgresStore) GetPermission(ctx context.Context, queryCode string) (*model.PermissionEntry, error) {
	var entry model.PermissionEntry
	err := s.pool.QueryRow(ctx, `
		SELECT query_code, store_id, store_name, updated_at FROM permissions WHERE query_code = $1
	`, queryCode).Scan(&entry.QueryCode, &entry.StoreID, &entry.StoreName, &entry.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission: %w", err)
	}
	return &entry, nil
}

// ListPermissions 列出全部查询码映射
func (s *PostgresStore) ListPermissions(ctx context.Context) ([]*model.PermissionEntry, error) {
	rows, err := s.pool.Query(ctx, `
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
func (s *PostgresStore) BumpQueryStats(ctx context.Context, storeID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO query_stats (store_id, query_count, last_query_time)
		VALUES ($1, 1, NOW())
		ON CONFLICT (store_id) DO UPDATE SET
			query_count     = query_stats.query_count + 1,
			last_query_time = NOW()
	`, storeID)
	if err != nil {
		return fmt.Errorf("failed to bump query stats: %w", err)
	}
	return nil
}

// GetQueryStats 获取门店查询统计
func (s *PostgresStore) GetQueryStats(ctx context.Context, storeID string) (*model.QueryStats, error) {
	var stats model.QueryStats
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT store_id, query_count, last_query_time FROM query_stats WHERE store_id = $1
	`, storeID).Scan(&stats.StoreID, &stats.QueryCount, &last)
	if err == pgx.ErrNoRows {
		return &model.QueryStats{StoreID: storeID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan query stats: %w", err)
	}
	if last != nil {
		stats.LastQueryTime = *last
	}
	return &stats, nil
}

// InsertUploadLog 写入上传留档
func (s *PostgresStore) InsertUploadLog(ctx context.Context, log *model.UploadLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upload_logs (id, filename, archived_as, period, file_size, total_sheets, success_count, failed_count, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, log.ID, log.Filename, log.ArchivedAs, log.Period, log.FileSize, log.TotalSheets, log.SuccessCount, log.FailedCount, log.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload log: %w", err)
	}
	return nil
}

// ListUploadLogs 按上传时间倒序列出留档
func (s *PostgresStore) ListUploadLogs(ctx context.Context, limit int) ([]*model.UploadLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, archived_as, period, file_size, total_sheets, success_count, failed_count, uploaded_at
		FROM upload_logs ORDER BY uploaded_at DESC LIMIT $1
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
func (s *PostgresStore) Stats(ctx context.Context) (*model.SystemStats, error) {
	var stats model.SystemStats

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stores`).Scan(&stats.StoreCount); err != nil {
		return nil, fmt.Errorf("failed to count stores: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM report_records`).Scan(&stats.RecordCount); err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&stats.PermissionCount); err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(query_count), 0) FROM query_stats`).Scan(&stats.TotalQueries); err != nil {
		return nil, fmt.Errorf("failed to sum query stats: %w", err)
	}

	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT uploaded_at FROM upload_logs ORDER BY uploaded_at DESC LIMIT 1`).Scan(&last)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to query last upload: %w", err)
	}
	if last != nil {
		stats.LastUploadAt = *last
	}

	return &stats, nil
}
