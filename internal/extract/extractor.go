package extract

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ginkii/store-report-system-sub000/internal/model"
)

// 合计列取法
const (
	PickSecond = "second" // 第 2 个合计列，只有 1 个时退到第 1 个
	PickFirst  = "first"  // 第 1 个合计列
)

// Options 提取配置
// 应收行号与合计列取法随报表模板版本漂移，按部署配置而非写死
type Options struct {
	ReceivablesRow   int    // 应收未收所在行，按 Excel 原始行号计，表头为第 1 行
	TotalsColumnPick string // PickSecond / PickFirst
}

// Extractor 财务字段提取器
type Extractor struct {
	rules  *Rules
	opts   Options
	logger *slog.Logger
}

// NewExtractor 创建提取器
func NewExtractor(rules *Rules, opts Options, logger *slog.Logger) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	if opts.TotalsColumnPick == "" {
		opts.TotalsColumnPick = PickSecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{rules: rules, opts: opts, logger: logger}
}

// Extract 从归一化后的表头与数据行中提取财务字段
// 提取是尽力而为：任何取数失败都退化为零值继续，绝不向调用方抛错
func (e *Extractor) Extract(sheetName string, headers []string, rows []model.RowMap) model.FinancialData {
	fields := model.NewFinancialData()

	totals := e.TotalsColumns(headers)
	e.extractReceivables(sheetName, rows, totals, &fields)
	e.classifyRows(rows, &fields)
	e.deriveTotals(&fields)

	return fields
}

// TotalsColumns 扫描表头返回全部合计列下标，保持表头顺序
func (e *Extractor) TotalsColumns(headers []string) []int {
	var cols []int
	for i, h := range headers {
		if e.rules.IsTotalsHeader(h) {
			cols = append(cols, i)
		}
	}
	return cols
}

// extractReceivables 定位应收未收行并从合计列取数
// 行号直取与关键词扫描双轨进行，不一致时记日志并以关键词确认结果为准
func (e *Extractor) extractReceivables(sheetName string, rows []model.RowMap, totals []int, fields *model.FinancialData) {
	scanIdx := -1
	for i, row := range rows {
		if e.rules.MatchesReceivablesLabel(rowLabel(row)) {
			scanIdx = i
			break
		}
	}

	// 配置行号换算为数据行下标，表头占第 1 行
	cfgIdx := e.opts.ReceivablesRow - 2

	useIdx := -1
	switch {
	case cfgIdx >= 0 && cfgIdx < len(rows) && e.rules.MatchesReceivablesLabel(rowLabel(rows[cfgIdx])):
		useIdx = cfgIdx
		if scanIdx >= 0 && scanIdx != cfgIdx {
			e.logger.Warn("应收未收关键词在配置行之外先出现",
				"sheet", sheetName,
				"configured_row", e.opts.ReceivablesRow,
				"scanned_row", scanIdx+2)
		}
	case scanIdx >= 0:
		useIdx = scanIdx
		e.logger.Warn("配置行未通过应收未收关键词确认，改用扫描结果",
			"sheet", sheetName,
			"configured_row", e.opts.ReceivablesRow,
			"scanned_row", scanIdx+2)
	default:
		return
	}

	row := rows[useIdx]
	col := e.pickTotalsColumn(totals, row)
	if col < 0 {
		return
	}
	if v, ok := ParseAmount(row[col]); ok {
		fields.Receivables[model.KeyNetAmount] = v
	}
}

// pickTotalsColumn 三级回退选列：配置取法的合计列 -> 仅有的合计列 -> 行内最后一个可转数值的列
func (e *Extractor) pickTotalsColumn(totals []int, row model.RowMap) int {
	switch e.opts.TotalsColumnPick {
	case PickFirst:
		if len(totals) >= 1 {
			return totals[0]
		}
	default:
		if len(totals) >= 2 {
			return totals[1]
		}
		if len(totals) == 1 {
			return totals[0]
		}
	}
	for col := row.MaxCol(); col >= 0; col-- {
		v, ok := row[col]
		if !ok {
			continue
		}
		if _, numeric := ParseAmount(v); numeric {
			return col
		}
	}
	return -1
}

// classifyRows 对每个数据行做关键词归类
// 首列为候选标签，自第 2 列起第一个可转数值的单元格为取值，缺数值按 0 计
func (e *Extractor) classifyRows(rows []model.RowMap, fields *model.FinancialData) {
	for i, row := range rows {
		label := rowLabel(row)
		if label == "" {
			continue
		}

		value := 0.0
		for col := 1; col <= row.MaxCol(); col++ {
			cell, ok := row[col]
			if !ok {
				continue
			}
			if v, numeric := ParseAmount(cell); numeric {
				value = v
				break
			}
		}

		bucket, key, matched := e.rules.Classify(label)
		if matched && key != "" {
			switch bucket {
			case BucketRevenue:
				fields.Revenue[key] = value
			case BucketCost:
				fields.Cost[key] = value
			case BucketProfit:
				fields.Profit[key] = value
			case BucketReceivables:
				fields.Receivables[key] = value
			}
		}

		// 全部带标签的行都进诊断表，便于人工排查
		fields.OtherMetrics[fmt.Sprintf("%d行_%s", i+1, label)] = value
	}
}

// deriveTotals 补算缺席的汇总字段，只补缺不覆盖
func (e *Extractor) deriveTotals(fields *model.FinancialData) {
	if _, ok := fields.Revenue[model.KeyTotalRevenue]; !ok {
		sum := fields.Revenue[model.KeyOnlineRevenue] + fields.Revenue[model.KeyOfflineRevenue]
		if sum > 0 {
			fields.Revenue[model.KeyTotalRevenue] = sum
		}
	}

	if _, ok := fields.Cost[model.KeyTotalCost]; !ok {
		sum := fields.Cost[model.KeyProductCost] +
			fields.Cost[model.KeyRentCost] +
			fields.Cost[model.KeyLaborCost] +
			fields.Cost[model.KeyOtherCost]
		if sum > 0 {
			fields.Cost[model.KeyTotalCost] = sum
		}
	}

	if _, ok := fields.Profit[model.KeyProfitMargin]; !ok {
		revenue := fields.Revenue[model.KeyTotalRevenue]
		cost := fields.Cost[model.KeyTotalCost]
		if revenue > 0 && cost > 0 {
			fields.Profit[model.KeyProfitMargin] = (revenue - cost) / revenue
		}
	}
}

// rowLabel 取首列作为行标签
func rowLabel(row model.RowMap) string {
	v, ok := row[0]
	if !ok {
		return ""
	}
	return strings.TrimSpace(model.CellString(v))
}
