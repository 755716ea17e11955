package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginkii/store-report-system-sub000/internal/archive"
	"github.com/ginkii/store-report-system-sub000/internal/excel"
	"github.com/ginkii/store-report-system-sub000/internal/extract"
	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/resolve"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

type sheetDef struct {
	name string
	rows [][]interface{}
}

func buildWorkbook(t *testing.T, sheets []sheetDef) []byte {
	t.Helper()

	wb := excelize.NewFile()
	defaultSheet := wb.GetSheetName(wb.GetActiveSheetIndex())

	for _, def := range sheets {
		if _, err := wb.NewSheet(def.name); err != nil {
			t.Fatalf("NewSheet %s: %v", def.name, err)
		}
		for i, row := range def.rows {
			row := row
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := wb.SetSheetRow(def.name, cell, &row); err != nil {
				t.Fatalf("SetSheetRow %s: %v", def.name, err)
			}
		}
	}
	if defaultSheet != "" {
		_ = wb.DeleteSheet(defaultSheet)
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func newTestCoordinator(t *testing.T, st store.Store, cfg Config) *Coordinator {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	r := resolve.New(st, []string{"犀牛百货"}, []string{"门店", "店铺", "店"}, logger)
	ex := extract.NewExtractor(nil, extract.Options{ReceivablesRow: 4}, logger)
	return NewCoordinator(st, r, ex, cfg)
}

func drain(t *testing.T, ch <-chan ProgressEvent) []ProgressEvent {
	t.Helper()

	var events []ProgressEvent
	for evt := range ch {
		events = append(events, evt)
	}
	if len(events) == 0 {
		t.Fatal("import produced no events")
	}
	return events
}

func doneReport(t *testing.T, events []ProgressEvent) *model.ImportReport {
	t.Helper()

	last := events[len(events)-1]
	if last.Type != "done" {
		t.Fatalf("last event = %s (%s), want done", last.Type, last.Message)
	}
	report, ok := last.Data.(*model.ImportReport)
	if !ok {
		t.Fatalf("done event data is %T, want *model.ImportReport", last.Data)
	}
	return report
}

var happyWorkbook = []sheetDef{
	{
		name: "杭州一店",
		rows: [][]interface{}{
			{"项目名称", "月合计", "季合计"},
			{"营业收入", 10000, 30000},
			{"成本费用", 4000, 12000},
			{"总部应收未收金额", 1500, 4500},
		},
	},
	{
		name: "深圳湾店",
		rows: [][]interface{}{
			{"项目名称", "合计"},
			{"营业收入", 8000},
		},
	},
}

// TestImportHappyPath 两个工作表全部入库，字段提取与留档齐备
func TestImportHappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	arch, err := archive.New(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("archive.New failed: %v", err)
	}
	coord := newTestCoordinator(t, mem, Config{Archive: arch})

	events := drain(t, coord.Import(ctx, Options{
		Filename: "六月报表.xlsx",
		Data:     buildWorkbook(t, happyWorkbook),
		Period:   "2025-06",
	}))

	if events[0].Type != "start" {
		t.Errorf("first event = %s, want start", events[0].Type)
	}
	for _, evt := range events {
		if evt.Type == "error" {
			t.Fatalf("unexpected error event: %s", evt.Message)
		}
	}

	report := doneReport(t, events)
	if report.TotalSheets != 2 || report.SuccessCount != 2 || report.FailedCount != 0 {
		t.Fatalf("report = %d/%d/%d, want 2 sheets all imported",
			report.TotalSheets, report.SuccessCount, report.FailedCount)
	}
	if len(report.ProcessedStores) != 2 {
		t.Errorf("ProcessedStores = %v, want 2 entries", report.ProcessedStores)
	}

	stores, err := mem.ListStores(ctx)
	if err != nil {
		t.Fatalf("ListStores failed: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("ListStores returned %d stores, want 2", len(stores))
	}

	hz, err := mem.FindStoreByName(ctx, "杭州一店")
	if err != nil {
		t.Fatalf("FindStoreByName failed: %v", err)
	}
	rec, err := mem.GetReport(ctx, hz.ID, "2025-06")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if got := rec.Fields.Revenue[model.KeyTotalRevenue]; got != 10000 {
		t.Errorf("total_revenue = %v, want 10000", got)
	}
	if got := rec.Fields.Receivables[model.KeyNetAmount]; got != 4500 {
		t.Errorf("net_amount = %v, want 4500", got)
	}
	if len(rec.RawRows) != 3 {
		t.Errorf("RawRows has %d rows, want 3", len(rec.RawRows))
	}

	logs, err := mem.ListUploadLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListUploadLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("ListUploadLogs returned %d logs, want 1", len(logs))
	}
	if logs[0].SuccessCount != 2 || logs[0].TotalSheets != 2 {
		t.Errorf("upload log counts = %d/%d, want 2/2", logs[0].SuccessCount, logs[0].TotalSheets)
	}
	if logs[0].ArchivedAs == "" {
		t.Fatal("upload log should reference the archived file")
	}
	if _, err := os.Stat(arch.FullPath(logs[0].ArchivedAs)); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}

// TestImportEmptySheetCounted 空白工作表计入失败数但不中断其余表
func TestImportEmptySheetCounted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	coord := newTestCoordinator(t, mem, Config{})

	data := buildWorkbook(t, []sheetDef{
		happyWorkbook[0],
		{name: "空白店", rows: [][]interface{}{{"项目名称", "合计"}}},
	})

	events := drain(t, coord.Import(ctx, Options{
		Filename: "report.xlsx",
		Data:     data,
		Period:   "2025-06",
	}))

	report := doneReport(t, events)
	if report.SuccessCount != 1 || report.FailedCount != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", report.SuccessCount, report.FailedCount)
	}
	if report.SuccessCount+report.FailedCount != report.TotalSheets {
		t.Errorf("success+failed = %d, want %d", report.SuccessCount+report.FailedCount, report.TotalSheets)
	}
	if len(report.FailedStores) != 1 || report.FailedStores[0].Name != "空白店" {
		t.Fatalf("FailedStores = %v, want 空白店", report.FailedStores)
	}
	if report.FailedStores[0].Reason != ErrSheetEmpty.Error() {
		t.Errorf("Reason = %s, want %s", report.FailedStores[0].Reason, ErrSheetEmpty)
	}

	var skipped *model.SheetOutcome
	for i := range report.Sheets {
		if report.Sheets[i].SheetName == "空白店" {
			skipped = &report.Sheets[i]
		}
	}
	if skipped == nil || skipped.Status != "skipped" {
		t.Errorf("空白店 outcome = %+v, want skipped", skipped)
	}
}

// TestImportReplaceAllClearsPeriod 整期替换清掉该期间不在本次文件中的记录
func TestImportReplaceAllClearsPeriod(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()

	stale := &model.ReportRecord{
		ID: "old", StoreID: "st-closed", Period: "2025-06",
		SheetName: "已关停店", UploadedAt: time.Now(),
	}
	if err := mem.UpsertReport(ctx, stale); err != nil {
		t.Fatalf("UpsertReport failed: %v", err)
	}

	coord := newTestCoordinator(t, mem, Config{})
	events := drain(t, coord.Import(ctx, Options{
		Filename:   "report.xlsx",
		Data:       buildWorkbook(t, happyWorkbook[:1]),
		Period:     "2025-06",
		ReplaceAll: true,
	}))
	report := doneReport(t, events)
	if report.SuccessCount != 1 {
		t.Fatalf("SuccessCount = %d, want 1", report.SuccessCount)
	}

	if _, err := mem.GetReport(ctx, "st-closed", "2025-06"); !errors.Is(err, store.ErrReportNotFound) {
		t.Errorf("stale record should be cleared, err = %v", err)
	}

	hz, err := mem.FindStoreByName(ctx, "杭州一店")
	if err != nil {
		t.Fatalf("FindStoreByName failed: %v", err)
	}
	if _, err := mem.GetReport(ctx, hz.ID, "2025-06"); err != nil {
		t.Errorf("new record missing: %v", err)
	}
}

// TestImportTwiceKeepsOneRecord 非替换模式下重复上传同期间仍只有一条记录
func TestImportTwiceKeepsOneRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	coord := newTestCoordinator(t, mem, Config{})
	data := buildWorkbook(t, happyWorkbook[:1])

	for i := 0; i < 2; i++ {
		events := drain(t, coord.Import(ctx, Options{
			Filename: "report.xlsx",
			Data:     data,
			Period:   "2025-06",
		}))
		if report := doneReport(t, events); report.SuccessCount != 1 {
			t.Fatalf("run %d SuccessCount = %d, want 1", i, report.SuccessCount)
		}
	}

	stores, err := mem.ListStores(ctx)
	if err != nil {
		t.Fatalf("ListStores failed: %v", err)
	}
	if len(stores) != 1 {
		t.Fatalf("ListStores returned %d stores, want 1", len(stores))
	}

	recs, err := mem.GetReports(ctx, stores[0].ID, nil, 0)
	if err != nil {
		t.Fatalf("GetReports failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("GetReports returned %d records, want 1", len(recs))
	}
}

// TestImportRejectsBadPeriod 期间格式不对直接终止
func TestImportRejectsBadPeriod(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord := newTestCoordinator(t, store.NewMemory(), Config{})

	events := drain(t, coord.Import(ctx, Options{
		Filename: "report.xlsx",
		Data:     buildWorkbook(t, happyWorkbook[:1]),
		Period:   "2025/06",
	}))

	last := events[len(events)-1]
	if last.Type != "error" {
		t.Fatalf("last event = %s, want error", last.Type)
	}
}

// TestImportRejectsOversizeFile 文件级上限直接终止
func TestImportRejectsOversizeFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limits := excel.DefaultLimits()
	limits.MaxFileSize = 16
	coord := newTestCoordinator(t, store.NewMemory(), Config{Limits: limits})

	events := drain(t, coord.Import(ctx, Options{
		Filename: "report.xlsx",
		Data:     buildWorkbook(t, happyWorkbook[:1]),
		Period:   "2025-06",
	}))

	last := events[len(events)-1]
	if last.Type != "error" {
		t.Fatalf("last event = %s, want error", last.Type)
	}
}
