package model

import "time"

// FailedStore 单个 sheet 的失败记录
type FailedStore struct {
	Name   string `json:"name"`   // sheet 名
	Reason string `json:"reason"` // 失败原因
}

// SheetOutcome 单个 sheet 的处理结果
type SheetOutcome struct {
	SheetName string        `json:"sheetName"`
	StoreID   string        `json:"storeId,omitempty"`
	StoreName string        `json:"storeName,omitempty"`
	Status    string        `json:"status"` // imported/skipped/error
	Reason    string        `json:"reason,omitempty"`
	Rows      int           `json:"rows"`
	Duration  time.Duration `json:"duration"`
}

// ImportReport 一次批量上传的汇总报告
// sheet 级失败只累积不中断，文件级错误直接终止整次上传
type ImportReport struct {
	Filename        string         `json:"filename"`
	Period          string         `json:"period"`
	TotalSheets     int            `json:"totalSheets"`
	SuccessCount    int            `json:"successCount"`
	FailedCount     int            `json:"failedCount"`
	ProcessedStores []string       `json:"processedStores"`
	FailedStores    []FailedStore  `json:"failedStores"`
	Sheets          []SheetOutcome `json:"sheets"`
	Duration        time.Duration  `json:"duration"`
}

// SheetInfo 工作表概览，用于文件诊断
type SheetInfo struct {
	Name    string `json:"name"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
	HasData bool   `json:"hasData"`
}

// FileStats 上传文件统计
type FileStats struct {
	FileSize    int64       `json:"fileSize"`
	TotalSheets int         `json:"totalSheets"`
	SheetNames  []string    `json:"sheetNames"`
	Sheets      []SheetInfo `json:"sheets"`
}

// UploadLog 上传留档记录
type UploadLog struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	ArchivedAs   string    `json:"archivedAs"` // 归档文件名
	Period       string    `json:"period"`
	FileSize     int64     `json:"fileSize"`
	TotalSheets  int       `json:"totalSheets"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// SystemStats 系统统计
type SystemStats struct {
	StoreCount      int       `json:"storeCount"`
	RecordCount     int       `json:"recordCount"`
	PermissionCount int       `json:"permissionCount"`
	TotalQueries    int       `json:"totalQueries"`
	LastUploadAt    time.Time `json:"lastUploadAt"`
}
