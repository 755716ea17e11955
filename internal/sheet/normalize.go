package sheet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ginkii/store-report-system-sub000/internal/model"
)

// Options 归一化选项
type Options struct {
	// TrimEmptyRows 开启后丢弃整行空白的数据行
	// 注意丢行会改变后续按行号取数的结果，需与提取配置的行号口径一致
	TrimEmptyRows bool
}

// Normalized 归一化结果：表头与按列号成键的数据行
type Normalized struct {
	Headers []string
	Rows    []model.RowMap
}

// Normalize 将原始表格拆成表头和数据行
// 表头取第 1 行，空表头按位换占位名，重名追加序号，首个出现者保留原名
func Normalize(grid [][]string, opts Options) Normalized {
	result := Normalized{Headers: []string{}, Rows: []model.RowMap{}}
	if len(grid) == 0 {
		return result
	}

	result.Headers = normalizeHeaders(grid[0])

	for _, rawRow := range grid[1:] {
		if opts.TrimEmptyRows && isEmptyRow(rawRow) {
			continue
		}
		row := model.RowMap{}
		for col, cell := range rawRow {
			row[col] = typedCell(cell)
		}
		result.Rows = append(result.Rows, row)
	}

	return result
}

// normalizeHeaders 处理表头行
func normalizeHeaders(rawHeaders []string) []string {
	headers := make([]string, 0, len(rawHeaders))
	seen := make(map[string]bool, len(rawHeaders))

	for i, cell := range rawHeaders {
		name := strings.TrimSpace(cell)
		if isBlankLike(name) {
			name = HeaderPlaceholder(i)
		}

		base := name
		counter := 1
		for seen[name] {
			name = fmt.Sprintf("%s_%d", base, counter)
			counter++
		}

		seen[name] = true
		headers = append(headers, name)
	}

	return headers
}

// HeaderPlaceholder 空表头的占位名，首列固定为项目名称
func HeaderPlaceholder(col int) string {
	if col == 0 {
		return "项目名称"
	}
	return fmt.Sprintf("列%d", col+1)
}

// typedCell 单元格类型化：纯数值串转 float64，其余原样保留
// 带格式的数值串（千分位、货币符号、括号）留给提取器做强转
func typedCell(cell string) interface{} {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return cell
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return cell
}

// isEmptyRow 判断整行是否全为空白
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// isBlankLike 空值或 nan 类占位文本
func isBlankLike(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}
