package permission

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginkii/store-report-system-sub000/internal/excel"
	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/resolve"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

// 文件级错误，出现即拒绝整次上传
var (
	ErrNoDataRows    = errors.New("权限表无数据")
	ErrTooFewColumns = errors.New("权限表至少需要两列")
)

// 表头自动识别关键字，小写子串匹配，先命中的列生效
var (
	queryCodeKeywords = []string{"查询编号", "query", "code", "编号", "代码", "查询码"}
	storeNameKeywords = []string{"门店名称", "store", "门店", "名称", "name", "shop"}
)

// Manager 权限表上传与查询码校验
// 门店名称走共享的身份解析器，报表上传与权限上传对同一名称收敛到同一门店
type Manager struct {
	store    store.Store
	resolver *resolve.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager 构造权限管理器
func NewManager(st store.Store, res *resolve.Resolver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, resolver: res, logger: logger, now: time.Now}
}

// UploadTable 解析权限表并逐行落库
// 至少两列，按表头关键字识别查询码列与门店名称列，
// 识别不全时退回第 1 列门店名称、第 2 列查询码
// 同一查询码重复上传为覆盖写，不做合并
func (m *Manager) UploadTable(ctx context.Context, filename string, data []byte) (*model.PermissionUploadResult, error) {
	grid, err := readTable(filename, data)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return nil, ErrNoDataRows
	}

	headers := grid[0]
	if len(headers) < 2 {
		return nil, ErrTooFewColumns
	}

	codeIdx := detectColumn(headers, queryCodeKeywords)
	storeIdx := detectColumn(headers, storeNameKeywords)
	if codeIdx < 0 || storeIdx < 0 {
		storeIdx, codeIdx = 0, 1
	}

	result := &model.PermissionUploadResult{
		Errors: []string{},
		DetectedColumns: model.DetectedColumns{
			QueryCode: headers[codeIdx],
			StoreName: headers[storeIdx],
		},
	}

	for _, row := range grid[1:] {
		code := cleanCell(row, codeIdx)
		name := cleanCell(row, storeIdx)
		if code == "" || name == "" {
			continue
		}

		ident, _, err := m.resolver.Resolve(ctx, name)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("处理行数据时出错: %v", err))
			continue
		}

		existed := true
		if _, err := m.store.GetPermission(ctx, code); err != nil {
			if !errors.Is(err, store.ErrPermissionNotFound) {
				result.Errors = append(result.Errors, fmt.Sprintf("处理行数据时出错: %v", err))
				continue
			}
			existed = false
		}

		entry := &model.PermissionEntry{
			QueryCode: code,
			StoreID:   ident.ID,
			StoreName: ident.CanonicalName,
			UpdatedAt: m.now(),
		}
		if err := m.store.UpsertPermission(ctx, entry); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("处理行数据时出错: %v", err))
			continue
		}

		if existed {
			result.Updated++
		} else {
			result.Created++
		}
		result.Processed++
	}

	m.logger.Info("权限表导入完成",
		"filename", filename,
		"processed", result.Processed,
		"created", result.Created,
		"updated", result.Updated,
		"errors", len(result.Errors))

	return result, nil
}

// Verify 校验查询码并返回对应门店，一对一关系
// 未配置的查询码返回 store.ErrPermissionNotFound
func (m *Manager) Verify(ctx context.Context, queryCode string) (*model.StoreIdentity, error) {
	code := strings.TrimSpace(queryCode)
	if code == "" {
		return nil, store.ErrPermissionNotFound
	}
	perm, err := m.store.GetPermission(ctx, code)
	if err != nil {
		return nil, err
	}
	return m.store.GetStore(ctx, perm.StoreID)
}

// readTable 按扩展名读取权限表为单元格网格
// 工作簿只取第一个 sheet，对应权限表单表的约定
func readTable(filename string, data []byte) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return readCSV(data)
	}
	return readWorkbook(data)
}

func readWorkbook(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", excel.ErrInvalidWorkbookFormat, err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoDataRows
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("读取权限表 sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	// Excel 导出的 CSV 常带 UTF-8 BOM
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\uFEFF"))))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取权限表 CSV: %w", err)
	}
	return rows, nil
}

// detectColumn 按关键字识别列号，未识别到返回 -1
func detectColumn(headers []string, keywords []string) int {
	for i, header := range headers {
		h := strings.ToLower(strings.TrimSpace(header))
		if h == "" {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(h, kw) {
				return i
			}
		}
	}
	return -1
}

// cleanCell 取单元格文本，nan 类占位视同空，行尾缺列视同空
func cleanCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	value := strings.TrimSpace(row[idx])
	switch strings.ToLower(value) {
	case "nan", "none", "null":
		return ""
	}
	return value
}
