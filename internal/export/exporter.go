package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

const (
	summarySheet = "汇总"
	dataSheet    = "门店报表"
)

// Exporter 门店报表导出器
//
// 导出走展示口径：数值按 2 位小数呈现，库里的原值不动。
type Exporter struct {
	store store.Store
	now   func() time.Time
}

// NewExporter 创建导出器
func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st, now: time.Now}
}

// ExportCSV 导出指定门店指定月份的重建表格
// 输出带 UTF-8 BOM，Excel 直接打开中文不乱码
func (e *Exporter) ExportCSV(ctx context.Context, storeID, period string) ([]byte, string, error) {
	ident, rec, err := e.load(ctx, storeID, period)
	if err != nil {
		return nil, "", err
	}

	table := RebuildTable(rec.Headers, rec.RawRows)

	var buf bytes.Buffer
	buf.WriteString("\uFEFF")
	w := csv.NewWriter(&buf)
	if err := w.Write(table.Headers); err != nil {
		return nil, "", fmt.Errorf("写出 CSV 表头失败: %w", err)
	}
	line := make([]string, len(table.Headers))
	for _, row := range table.Rows {
		for i, cell := range row {
			line[i] = csvCell(cell)
		}
		if err := w.Write(line); err != nil {
			return nil, "", fmt.Errorf("写出 CSV 数据行失败: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("写出 CSV 失败: %w", err)
	}

	return buf.Bytes(), fmt.Sprintf("%s_%s_报表.csv", ident.CanonicalName, rec.Period), nil
}

// ExportExcel 导出指定门店指定月份的工作簿，汇总页在前、明细页在后
func (e *Exporter) ExportExcel(ctx context.Context, storeID, period string) (*excelize.File, string, error) {
	ident, rec, err := e.load(ctx, storeID, period)
	if err != nil {
		return nil, "", err
	}

	table := RebuildTable(rec.Headers, rec.RawRows)

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetList()[0], summarySheet); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("创建汇总页失败: %w", err)
	}
	if _, err := f.NewSheet(dataSheet); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("创建明细页失败: %w", err)
	}

	if err := e.writeSummary(f, ident, rec); err != nil {
		_ = f.Close()
		return nil, "", err
	}
	if err := writeTable(f, dataSheet, table); err != nil {
		_ = f.Close()
		return nil, "", err
	}

	f.SetActiveSheet(0)
	return f, fmt.Sprintf("%s_%s_报表.xlsx", ident.CanonicalName, rec.Period), nil
}

func (e *Exporter) load(ctx context.Context, storeID, period string) (*model.StoreIdentity, *model.ReportRecord, error) {
	ident, err := e.store.GetStore(ctx, storeID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := e.store.GetReport(ctx, storeID, period)
	if err != nil {
		return nil, nil, err
	}
	return ident, rec, nil
}

func (e *Exporter) writeSummary(f *excelize.File, ident *model.StoreIdentity, rec *model.ReportRecord) error {
	net := rec.Fields.NetReceivable()

	headers := []interface{}{
		"门店名称", "门店编码", "报表月份",
		"营业收入合计", "成本费用合计", "应收未收金额", "结算方向", "导出时间",
	}
	values := []interface{}{
		ident.CanonicalName,
		ident.ShortCode,
		rec.Period,
		roundHalfUp(rec.Fields.Revenue[model.KeyTotalRevenue], 2),
		roundHalfUp(rec.Fields.Cost[model.KeyTotalCost], 2),
		roundHalfUp(net, 2),
		model.ReceivableDirection(net),
		e.now().Format("2006-01-02 15:04:05"),
	}

	if err := f.SetSheetRow(summarySheet, "A1", &headers); err != nil {
		return fmt.Errorf("写入汇总表头失败: %w", err)
	}
	if err := f.SetSheetRow(summarySheet, "A2", &values); err != nil {
		return fmt.Errorf("写入汇总数据失败: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, sheet string, table Table) error {
	headerCells := make([]interface{}, len(table.Headers))
	for i, h := range table.Headers {
		headerCells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerCells); err != nil {
		return fmt.Errorf("写入明细表头失败: %w", err)
	}

	for i, row := range table.Rows {
		cells := make([]interface{}, len(row))
		for j, cell := range row {
			cells[j] = excelCell(cell)
		}
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("定位明细第 %d 行失败: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheet, cellName, &cells); err != nil {
			return fmt.Errorf("写入明细第 %d 行失败: %w", i+2, err)
		}
	}
	return nil
}

// csvCell 单元格的 CSV 呈现，数值按 2 位小数
func csvCell(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(roundHalfUp(f, 2), 'f', 2, 64)
	}
	return model.CellString(v)
}

// excelCell 单元格的工作簿呈现，数值四舍五入后仍按数值写入
func excelCell(v interface{}) interface{} {
	if f, ok := v.(float64); ok {
		return roundHalfUp(f, 2)
	}
	return v
}

func roundHalfUp(v float64, digits int) float64 {
	if digits < 0 {
		return v
	}
	scale := math.Pow10(digits)
	x := v * scale
	if x >= 0 {
		return math.Floor(x+0.5) / scale
	}
	return -math.Floor(-x+0.5) / scale
}
