package model

import (
	"fmt"
	"strconv"
	"time"
)

// RowMap 一行数据，键为列序号
// 单元格值为 float64 或 string，空单元格保留空字符串，保证列对齐可往返
type RowMap map[int]interface{}

// 提取字段的既定键名
const (
	KeyOnlineRevenue  = "online_revenue"
	KeyOfflineRevenue = "offline_revenue"
	KeyTotalRevenue   = "total_revenue"

	KeyProductCost = "product_cost"
	KeyRentCost    = "rent_cost"
	KeyLaborCost   = "labor_cost"
	KeyOtherCost   = "other_cost"
	KeyTotalCost   = "total_cost"

	KeyGrossProfit  = "gross_profit"
	KeyNetProfit    = "net_profit"
	KeyTotalProfit  = "total_profit"
	KeyProfitMargin = "profit_margin"

	KeyAccountsReceivable = "accounts_receivable"
	KeyUncollectedAmount  = "uncollected_amount"
	KeyOverdueAmount      = "overdue_amount"
	KeyAccountsPayable    = "accounts_payable"
	KeyNetAmount          = "net_amount"
)

// FinancialData 从 sheet 中提取出的财务字段
// 各桶为键值表，键缺席表示该字段未出现，派生计算只补缺不覆盖
type FinancialData struct {
	Revenue      map[string]float64 `json:"revenue"`
	Cost         map[string]float64 `json:"cost"`
	Profit       map[string]float64 `json:"profit"`
	Receivables  map[string]float64 `json:"receivables"`
	OtherMetrics map[string]float64 `json:"otherMetrics"` // "{行号}行_{标签}" -> 值
}

// NewFinancialData 创建空的财务字段集
func NewFinancialData() FinancialData {
	return FinancialData{
		Revenue:      map[string]float64{},
		Cost:         map[string]float64{},
		Profit:       map[string]float64{},
		Receivables:  map[string]float64{},
		OtherMetrics: map[string]float64{},
	}
}

// ReceivableDirection 应收差额的结算方向说明
// 负数表示总部应退，正数表示门店应付
func ReceivableDirection(netAmount float64) string {
	switch {
	case netAmount < 0:
		return "总部应退"
	case netAmount > 0:
		return "门店应付"
	default:
		return "已结清"
	}
}

// NetReceivable 取结算差额，net_amount 缺席或为零时回退到应收账款
func (f FinancialData) NetReceivable() float64 {
	if v, ok := f.Receivables[KeyNetAmount]; ok && v != 0 {
		return v
	}
	if v, ok := f.Receivables[KeyAccountsReceivable]; ok && v != 0 {
		return v
	}
	return 0
}

// CellString 将单元格值转为展示字符串
func CellString(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		return strconv.Itoa(c)
	case bool:
		return strconv.FormatBool(c)
	default:
		return fmt.Sprintf("%v", c)
	}
}

// MaxCol 行内最大列号，空行返回 -1
func (r RowMap) MaxCol() int {
	max := -1
	for col := range r {
		if col > max {
			max = col
		}
	}
	return max
}

// ReportRecord 单门店单月的报表记录
// 同一 (storeId, period) 至多一条，重复上传为整体替换
type ReportRecord struct {
	ID         string        `json:"id"`
	StoreID    string        `json:"storeId"`
	Period     string        `json:"period"`    // "YYYY-MM"
	SheetName  string        `json:"sheetName"` // 原始 sheet 名，留作追溯
	Headers    []string      `json:"headers"`   // 按列序对齐 RawRows
	RawRows    []RowMap      `json:"rawRows"`
	Fields     FinancialData `json:"fields"`
	UploadedAt time.Time     `json:"uploadedAt"`
}
