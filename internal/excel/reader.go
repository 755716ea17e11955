package excel

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginkii/store-report-system-sub000/internal/model"
)

// 文件级错误，任何一个出现都拒绝整次上传
var (
	ErrFileTooLarge          = errors.New("文件超出大小上限")
	ErrTooManySheets         = errors.New("工作表数量超出上限")
	ErrInvalidWorkbookFormat = errors.New("无法识别的工作簿格式")
)

// Limits 读取上限
// MaxRowsScan/MaxColsScan 是扫描窗口：判定有无数据和读取网格都只看窗口内，
// 窗口外有数据的 sheet 不会被误判为空，但窗口外的行列不参与解析
type Limits struct {
	MaxFileSize int64
	MaxSheets   int
	MaxRowsScan int
	MaxColsScan int
}

// DefaultLimits 默认上限
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize: 50 * 1024 * 1024,
		MaxSheets:   200,
		MaxRowsScan: 1000,
		MaxColsScan: 50,
	}
}

// Workbook 已打开的工作簿，只读
type Workbook struct {
	file   *excelize.File
	size   int64
	limits Limits
}

// Open 打开工作簿字节流并做文件级校验
func Open(data []byte, limits Limits) (*Workbook, error) {
	if limits.MaxFileSize > 0 && int64(len(data)) > limits.MaxFileSize {
		return nil, fmt.Errorf("%w: %d 字节, 上限 %d", ErrFileTooLarge, len(data), limits.MaxFileSize)
	}

	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbookFormat, err)
	}

	sheets := file.GetSheetList()
	if limits.MaxSheets > 0 && len(sheets) > limits.MaxSheets {
		file.Close()
		return nil, fmt.Errorf("%w: %d 个, 上限 %d, 请拆分后再上传", ErrTooManySheets, len(sheets), limits.MaxSheets)
	}

	return &Workbook{file: file, size: int64(len(data)), limits: limits}, nil
}

// Close 释放底层文件
func (w *Workbook) Close() error {
	return w.file.Close()
}

// SheetNames 按工作簿顺序返回全部 sheet 名
func (w *Workbook) SheetNames() []string {
	return w.file.GetSheetList()
}

// Size 原始字节数
func (w *Workbook) Size() int64 {
	return w.size
}

// Grid 流式读取单个 sheet 的单元格网格
// 行按迭代器逐行取，不构建整个样式对象图，行尾空单元格天然缺省
func (w *Workbook) Grid(sheet string) ([][]string, error) {
	iter, err := w.file.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("读取 sheet %s: %w", sheet, err)
	}
	defer iter.Close()

	var grid [][]string
	for iter.Next() {
		if w.limits.MaxRowsScan > 0 && len(grid) >= w.limits.MaxRowsScan {
			break
		}
		cells, err := iter.Columns()
		if err != nil {
			return nil, fmt.Errorf("读取 sheet %s 行 %d: %w", sheet, len(grid)+1, err)
		}
		if w.limits.MaxColsScan > 0 && len(cells) > w.limits.MaxColsScan {
			cells = cells[:w.limits.MaxColsScan]
		}
		grid = append(grid, cells)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("读取 sheet %s: %w", sheet, err)
	}

	return grid, nil
}

// SheetInfo 单次流式扫描出 sheet 概览
// HasData 只认表头行之外窗口内的非空白单元格
func (w *Workbook) SheetInfo(sheet string) (model.SheetInfo, error) {
	info := model.SheetInfo{Name: sheet}

	iter, err := w.file.Rows(sheet)
	if err != nil {
		return info, fmt.Errorf("读取 sheet %s: %w", sheet, err)
	}
	defer iter.Close()

	for iter.Next() {
		if w.limits.MaxRowsScan > 0 && info.Rows >= w.limits.MaxRowsScan {
			break
		}
		cells, err := iter.Columns()
		if err != nil {
			return info, fmt.Errorf("读取 sheet %s: %w", sheet, err)
		}
		if w.limits.MaxColsScan > 0 && len(cells) > w.limits.MaxColsScan {
			cells = cells[:w.limits.MaxColsScan]
		}
		if len(cells) > info.Columns {
			info.Columns = len(cells)
		}
		if info.Rows > 0 && !info.HasData {
			for _, cell := range cells {
				if !isBlankLike(cell) {
					info.HasData = true
					break
				}
			}
		}
		info.Rows++
	}
	if err := iter.Error(); err != nil {
		return info, fmt.Errorf("读取 sheet %s: %w", sheet, err)
	}

	return info, nil
}

// HasData 判定 sheet 在扫描窗口内是否有表头之外的数据
func (w *Workbook) HasData(sheet string) (bool, error) {
	info, err := w.SheetInfo(sheet)
	if err != nil {
		return false, err
	}
	return info.HasData, nil
}

// Stats 汇总整个工作簿的文件统计
func (w *Workbook) Stats() (model.FileStats, error) {
	stats := model.FileStats{
		FileSize:    w.size,
		SheetNames:  w.SheetNames(),
		TotalSheets: len(w.file.GetSheetList()),
	}
	for _, name := range stats.SheetNames {
		info, err := w.SheetInfo(name)
		if err != nil {
			return stats, err
		}
		stats.Sheets = append(stats.Sheets, info)
	}
	return stats, nil
}

// isBlankLike 空白或 nan 类占位文本
func isBlankLike(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}
