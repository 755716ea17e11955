package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ginkii/store-report-system-sub000/internal/archive"
	"github.com/ginkii/store-report-system-sub000/internal/excel"
	"github.com/ginkii/store-report-system-sub000/internal/extract"
	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/resolve"
	"github.com/ginkii/store-report-system-sub000/internal/sheet"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

// sheet 级错误，记录后继续处理后续工作表，不中断整次导入
var (
	ErrSheetEmpty            = errors.New("工作表无数据")
	ErrStoreResolutionFailed = errors.New("无法创建门店记录")
	ErrSheetProcessingFailed = errors.New("数据处理失败")
)

// Coordinator 导入协调器，串起读取、归一化、门店解析、字段提取和入库
type Coordinator struct {
	store     store.Store
	resolver  *resolve.Resolver
	extractor *extract.Extractor
	archive   *archive.Archive
	limits    excel.Limits
	trimRows  bool
	logger    *slog.Logger
}

// Config 协调器配置
type Config struct {
	Limits        excel.Limits
	TrimEmptyRows bool
	Archive       *archive.Archive // 为 nil 时不归档
	Logger        *slog.Logger
}

// NewCoordinator 创建导入协调器
func NewCoordinator(st store.Store, r *resolve.Resolver, ex *extract.Extractor, cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limits == (excel.Limits{}) {
		cfg.Limits = excel.DefaultLimits()
	}
	return &Coordinator{
		store:     st,
		resolver:  r,
		extractor: ex,
		archive:   cfg.Archive,
		limits:    cfg.Limits,
		trimRows:  cfg.TrimEmptyRows,
		logger:    cfg.Logger,
	}
}

// Options 导入选项
type Options struct {
	Filename   string
	Data       []byte
	Period     string // "YYYY-MM"
	ReplaceAll bool   // 先清空该期间的存量记录再写入
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string      `json:"type"` // start/info/sheet_start/sheet_done/warning/error/done
	Percent   float64     `json:"percent"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// importContext 一次导入的过程状态
type importContext struct {
	opts      Options
	wb        *excel.Workbook
	report    *model.ImportReport
	batch     []*model.ReportRecord // ReplaceAll 时暂存，处理完统一落库
	progress  chan ProgressEvent
	startTime time.Time
}

// Import 执行导入，进度从返回的通道读取，导入结束后通道关闭
// done 事件的 Data 携带最终的 ImportReport，调用方必须取尽通道
func (c *Coordinator) Import(ctx context.Context, opts Options) <-chan ProgressEvent {
	progressChan := make(chan ProgressEvent, 100)

	go func() {
		defer close(progressChan)
		c.doImport(ctx, opts, progressChan)
	}()

	return progressChan
}

// doImport 执行导入逻辑
func (c *Coordinator) doImport(ctx context.Context, opts Options, progressChan chan ProgressEvent) {
	startTime := time.Now()

	c.sendProgress(progressChan, ProgressEvent{
		Type:    "start",
		Message: "开始导入报表文件",
		Data: map[string]string{
			"filename": opts.Filename,
			"period":   opts.Period,
		},
		Timestamp: time.Now(),
	})

	if err := validatePeriod(opts.Period); err != nil {
		c.fail(progressChan, fmt.Sprintf("报表期间不合法: %v", err))
		return
	}

	c.sendProgress(progressChan, ProgressEvent{
		Type:      "info",
		Percent:   10,
		Message:   "正在读取报表文件",
		Timestamp: time.Now(),
	})

	wb, err := excel.Open(opts.Data, c.limits)
	if err != nil {
		c.fail(progressChan, fmt.Sprintf("打开文件失败: %v", err))
		return
	}
	defer wb.Close()

	sheets := wb.SheetNames()
	if len(sheets) == 0 {
		c.fail(progressChan, "工作簿中没有工作表")
		return
	}

	ictx := &importContext{
		opts:      opts,
		wb:        wb,
		progress:  progressChan,
		startTime: startTime,
		report: &model.ImportReport{
			Filename:        opts.Filename,
			Period:          opts.Period,
			TotalSheets:     len(sheets),
			ProcessedStores: []string{},
			FailedStores:    []model.FailedStore{},
			Sheets:          []model.SheetOutcome{},
		},
	}

	stats, err := wb.Stats()
	if err != nil {
		c.logger.Warn("统计工作簿信息失败", "error", err)
		stats = model.FileStats{FileSize: wb.Size(), TotalSheets: len(sheets), SheetNames: sheets}
	}
	c.sendProgress(progressChan, ProgressEvent{
		Type:      "info",
		Percent:   20,
		Message:   fmt.Sprintf("发现 %d 个工作表，开始处理", len(sheets)),
		Data:      stats,
		Timestamp: time.Now(),
	})

	for i, sheetName := range sheets {
		percent := 20 + float64(i+1)/float64(len(sheets))*70

		c.sendProgress(progressChan, ProgressEvent{
			Type:    "sheet_start",
			Percent: percent,
			Message: fmt.Sprintf("正在处理: %s", sheetName),
			Data: map[string]string{
				"sheet_name": sheetName,
			},
			Timestamp: time.Now(),
		})

		outcome := c.processSheet(ctx, ictx, sheetName)
		c.recordSheetOutcome(ictx, outcome)

		c.sendProgress(progressChan, ProgressEvent{
			Type:      "sheet_done",
			Percent:   percent,
			Message:   fmt.Sprintf("%s: %s", sheetName, outcome.Status),
			Data:      outcome,
			Timestamp: time.Now(),
		})
	}

	if opts.ReplaceAll {
		if err := c.store.ReplaceAllForPeriod(ctx, opts.Period, ictx.batch); err != nil {
			c.fail(progressChan, fmt.Sprintf("写入期间数据失败: %v", err))
			return
		}
	}

	c.archiveUpload(ctx, ictx)

	ictx.report.Duration = time.Since(startTime)

	c.logger.Info("导入完成",
		"filename", opts.Filename,
		"period", opts.Period,
		"success", ictx.report.SuccessCount,
		"failed", ictx.report.FailedCount)

	c.sendProgress(progressChan, ProgressEvent{
		Type:      "done",
		Percent:   100,
		Message:   "上传完成",
		Data:      ictx.report,
		Timestamp: time.Now(),
	})
}

// processSheet 处理单个工作表，任何失败都折叠为一条结果记录
func (c *Coordinator) processSheet(ctx context.Context, ictx *importContext, sheetName string) model.SheetOutcome {
	start := time.Now()
	outcome := model.SheetOutcome{SheetName: sheetName}

	hasData, err := ictx.wb.HasData(sheetName)
	if err != nil {
		return sheetFailed(outcome, start, fmt.Errorf("%w: %v", ErrSheetProcessingFailed, err))
	}
	if !hasData {
		return sheetFailed(outcome, start, ErrSheetEmpty)
	}

	grid, err := ictx.wb.Grid(sheetName)
	if err != nil {
		return sheetFailed(outcome, start, fmt.Errorf("%w: %v", ErrSheetProcessingFailed, err))
	}

	normalized := sheet.Normalize(grid, sheet.Options{TrimEmptyRows: c.trimRows})
	if len(normalized.Rows) == 0 {
		return sheetFailed(outcome, start, ErrSheetEmpty)
	}

	st, created, err := c.resolver.Resolve(ctx, sheetName)
	if err != nil {
		return sheetFailed(outcome, start, fmt.Errorf("%w: %v", ErrStoreResolutionFailed, err))
	}
	if created {
		c.sendProgress(ictx.progress, ProgressEvent{
			Type:      "info",
			Message:   fmt.Sprintf("已自动创建门店: %s", st.CanonicalName),
			Timestamp: time.Now(),
		})
	}

	fields := c.extractor.Extract(sheetName, normalized.Headers, normalized.Rows)

	rec := &model.ReportRecord{
		ID:         uuid.NewString(),
		StoreID:    st.ID,
		Period:     ictx.opts.Period,
		SheetName:  sheetName,
		Headers:    normalized.Headers,
		RawRows:    normalized.Rows,
		Fields:     fields,
		UploadedAt: time.Now(),
	}

	if ictx.opts.ReplaceAll {
		ictx.batch = append(ictx.batch, rec)
	} else if err := c.store.UpsertReport(ctx, rec); err != nil {
		return sheetFailed(outcome, start, fmt.Errorf("%w: %v", ErrSheetProcessingFailed, err))
	}

	outcome.Status = "imported"
	outcome.StoreID = st.ID
	outcome.StoreName = st.CanonicalName
	outcome.Rows = len(normalized.Rows)
	outcome.Duration = time.Since(start)
	return outcome
}

func sheetFailed(outcome model.SheetOutcome, start time.Time, err error) model.SheetOutcome {
	outcome.Duration = time.Since(start)
	outcome.Reason = err.Error()
	if errors.Is(err, ErrSheetEmpty) {
		outcome.Status = "skipped"
	} else {
		outcome.Status = "error"
	}
	return outcome
}

// recordSheetOutcome 每个工作表恰好记一条结果，成功数加失败数等于总表数
func (c *Coordinator) recordSheetOutcome(ictx *importContext, outcome model.SheetOutcome) {
	ictx.report.Sheets = append(ictx.report.Sheets, outcome)

	if outcome.Status == "imported" {
		ictx.report.SuccessCount++
		ictx.report.ProcessedStores = append(ictx.report.ProcessedStores, outcome.StoreName)
	} else {
		ictx.report.FailedCount++
		ictx.report.FailedStores = append(ictx.report.FailedStores, model.FailedStore{
			Name:   outcome.SheetName,
			Reason: outcome.Reason,
		})
	}
}

// archiveUpload 归档原始文件并写留档，失败只告警不影响导入结果
func (c *Coordinator) archiveUpload(ctx context.Context, ictx *importContext) {
	archivedAs := ""
	if c.archive != nil {
		name, err := c.archive.Save(ictx.opts.Filename, bytes.NewReader(ictx.opts.Data))
		if err != nil {
			c.logger.Warn("归档上传文件失败", "filename", ictx.opts.Filename, "error", err)
			c.sendProgress(ictx.progress, ProgressEvent{
				Type:      "warning",
				Message:   fmt.Sprintf("归档失败: %v", err),
				Timestamp: time.Now(),
			})
		} else {
			archivedAs = name
		}
	}

	entry := &model.UploadLog{
		ID:           uuid.NewString(),
		Filename:     ictx.opts.Filename,
		ArchivedAs:   archivedAs,
		Period:       ictx.opts.Period,
		FileSize:     int64(len(ictx.opts.Data)),
		TotalSheets:  ictx.report.TotalSheets,
		SuccessCount: ictx.report.SuccessCount,
		FailedCount:  ictx.report.FailedCount,
		UploadedAt:   time.Now(),
	}
	if err := c.store.InsertUploadLog(ctx, entry); err != nil {
		c.logger.Warn("写入上传留档失败", "error", err)
	}
}

// validatePeriod 报表期间必须是 YYYY-MM
func validatePeriod(period string) error {
	if len(period) != 7 {
		return fmt.Errorf("expect YYYY-MM, got %q", period)
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return fmt.Errorf("expect YYYY-MM, got %q", period)
	}
	return nil
}

// sendProgress 发送进度事件
// 中间事件在通道满时丢弃，终态事件（error/done）阻塞送达，调用方必须取尽通道
func (c *Coordinator) sendProgress(ch chan ProgressEvent, event ProgressEvent) {
	switch event.Type {
	case "error", "done":
		ch <- event
	default:
		select {
		case ch <- event:
		default:
		}
	}
}

// fail 文件级错误，发送 error 事件并终止导入
func (c *Coordinator) fail(ch chan ProgressEvent, msg string) {
	c.logger.Error("导入终止", "reason", msg)
	c.sendProgress(ch, ProgressEvent{
		Type:      "error",
		Message:   msg,
		Timestamp: time.Now(),
	})
}
