package export

import (
	"fmt"

	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/sheet"
)

// Table 重建后的展示表格，列已对齐
type Table struct {
	Headers []string        `json:"headers"`
	Rows    [][]interface{} `json:"rows"`
}

// RebuildTable 从留存的表头和数据行重建展示表格
// 数据行可能比表头宽，缺的表头按占位名补齐并避让重名；
// 短行右侧补空串，保证每行与表头等宽
func RebuildTable(headers []string, rows []model.RowMap) Table {
	maxCols := len(headers)
	for _, row := range rows {
		if n := row.MaxCol() + 1; n > maxCols {
			maxCols = n
		}
	}

	outHeaders := make([]string, 0, maxCols)
	seen := make(map[string]bool, maxCols)
	for _, h := range headers {
		outHeaders = append(outHeaders, h)
		seen[h] = true
	}
	for i := len(headers); i < maxCols; i++ {
		name := sheet.HeaderPlaceholder(i)
		base := name
		counter := 1
		for seen[name] {
			name = fmt.Sprintf("%s_%d", base, counter)
			counter++
		}
		seen[name] = true
		outHeaders = append(outHeaders, name)
	}

	outRows := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		cells := make([]interface{}, maxCols)
		for col := 0; col < maxCols; col++ {
			v, ok := row[col]
			if !ok || v == nil {
				cells[col] = ""
				continue
			}
			cells[col] = v
		}
		outRows = append(outRows, cells)
	}

	return Table{Headers: outHeaders, Rows: outRows}
}
