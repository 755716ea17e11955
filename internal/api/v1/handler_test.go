package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/ginkii/store-report-system-sub000/internal/cache"
	"github.com/ginkii/store-report-system-sub000/internal/export"
	"github.com/ginkii/store-report-system-sub000/internal/extract"
	"github.com/ginkii/store-report-system-sub000/internal/importer"
	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/permission"
	"github.com/ginkii/store-report-system-sub000/internal/resolve"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

func newTestHandler(t *testing.T, maxUpload int64) (*Handler, *store.MemoryStore) {
	t.Helper()

	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := resolve.New(mem, []string{"犀牛百货"}, []string{"门店", "店铺", "店"}, logger)
	ex := extract.NewExtractor(nil, extract.Options{ReceivablesRow: 4}, logger)

	h := NewHandler(Options{
		Store:       mem,
		Coordinator: importer.NewCoordinator(mem, res, ex, importer.Config{Logger: logger}),
		Permissions: permission.NewManager(mem, res, logger),
		Exporter:    export.NewExporter(mem),
		Cache:       cache.New(16, time.Minute),
		MaxUpload:   maxUpload,
		Logger:      logger,
	})
	return h, mem
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.MemoryStore) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	h, mem := newTestHandler(t, 0)
	r := gin.New()
	api := r.Group("/api/v1")
	h.RegisterRoutes(api)
	return r, mem
}

// multipartBody 组装 multipart 请求体，file 字段加若干表单字段
func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField %s: %v", k, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func reportWorkbook(t *testing.T) []byte {
	t.Helper()

	wb := excelize.NewFile()
	if err := wb.SetSheetName(wb.GetSheetList()[0], "杭州一店"); err != nil {
		t.Fatalf("SetSheetName: %v", err)
	}
	rows := [][]interface{}{
		{"项目名称", "月合计"},
		{"营业收入", 10000},
		{"成本费用", 4000},
		{"总部应收未收金额", -1500},
	}
	for i, row := range rows {
		row := row
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := wb.SetSheetRow("杭州一店", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

// seedStore 绕过导入链路直接落一条门店加报表
func seedStore(t *testing.T, mem *store.MemoryStore) *model.StoreIdentity {
	t.Helper()
	ctx := context.Background()

	ident := &model.StoreIdentity{
		ID:            "st-hz1",
		CanonicalName: "杭州一店",
		ShortCode:     "AUTO_AB12CD",
		Region:        "华东",
		Status:        model.StoreActive,
		CreatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := mem.SaveStore(ctx, ident); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}

	fields := model.NewFinancialData()
	fields.Revenue[model.KeyTotalRevenue] = 10000
	fields.Cost[model.KeyTotalCost] = 4000
	fields.Receivables[model.KeyNetAmount] = -1500

	rec := &model.ReportRecord{
		ID:        "rec-1",
		StoreID:   ident.ID,
		Period:    "2025-06",
		SheetName: "杭州一店",
		Headers:   []string{"项目名称", "月合计"},
		RawRows: []model.RowMap{
			{0: "营业收入", 1: 10000.0},
		},
		Fields:     fields,
		UploadedAt: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	}
	if err := mem.UpsertReport(ctx, rec); err != nil {
		t.Fatalf("UpsertReport: %v", err)
	}
	return ident
}

func sseEvents(t *testing.T, body string) []importer.ProgressEvent {
	t.Helper()

	var events []importer.ProgressEvent
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if !strings.HasPrefix(chunk, "data: ") {
			continue
		}
		var evt importer.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &evt); err != nil {
			t.Fatalf("unmarshal event %q: %v", chunk, err)
		}
		events = append(events, evt)
	}
	if len(events) == 0 {
		t.Fatalf("no SSE events in body: %s", body)
	}
	return events
}

func TestUploadReportsStreamsSSE(t *testing.T) {
	r, mem := newTestRouter(t)

	body, contentType := multipartBody(t, "六月报表.xlsx", reportWorkbook(t), map[string]string{
		"period": "2025-06",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", got)
	}

	events := sseEvents(t, w.Body.String())
	if events[0].Type != "start" {
		t.Errorf("first event = %s, want start", events[0].Type)
	}
	if last := events[len(events)-1]; last.Type != "done" {
		t.Fatalf("last event = %s (%s), want done", last.Type, last.Message)
	}

	ctx := context.Background()
	ident, err := mem.FindStoreByName(ctx, "杭州一店")
	if err != nil {
		t.Fatalf("FindStoreByName: %v", err)
	}
	rec, err := mem.GetReport(ctx, ident.ID, "2025-06")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got := rec.Fields.Revenue[model.KeyTotalRevenue]; got != 10000 {
		t.Errorf("total_revenue = %v, want 10000", got)
	}

	logs, err := mem.ListUploadLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListUploadLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("upload logs = %d, want 1", len(logs))
	}
}

func TestUploadReportsRequiresFile(t *testing.T) {
	r, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("period", "2025-06")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUploadReportsRequiresPeriod(t *testing.T) {
	r, _ := newTestRouter(t)

	body, contentType := multipartBody(t, "report.xlsx", reportWorkbook(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadReportsOversize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t, 16)
	r := gin.New()
	api := r.Group("/api/v1")
	h.RegisterRoutes(api)

	body, contentType := multipartBody(t, "report.xlsx", reportWorkbook(t), map[string]string{
		"period": "2025-06",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestQueryReportsCountsAndCaches(t *testing.T) {
	r, mem := newTestRouter(t)
	ident := seedStore(t, mem)
	ctx := context.Background()

	get := func() (int, []byte) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stores/"+ident.ID+"/reports", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code, w.Body.Bytes()
	}

	code, first := get()
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", code, first)
	}

	var resp struct {
		Store   model.StoreIdentity `json:"store"`
		Reports []struct {
			Period     string       `json:"period"`
			Table      export.Table `json:"table"`
			Receivable struct {
				NetAmount float64 `json:"netAmount"`
				Direction string  `json:"direction"`
			} `json:"receivable"`
		} `json:"reports"`
	}
	if err := json.Unmarshal(first, &resp); err != nil {
		t.Fatalf("unmarshal: %v body=%s", err, first)
	}
	if resp.Store.CanonicalName != "杭州一店" {
		t.Errorf("store = %s, want 杭州一店", resp.Store.CanonicalName)
	}
	if len(resp.Reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(resp.Reports))
	}
	if resp.Reports[0].Receivable.Direction != "总部应退" {
		t.Errorf("direction = %s, want 总部应退", resp.Reports[0].Receivable.Direction)
	}
	if got := resp.Reports[0].Table.Headers; len(got) != 2 || got[0] != "项目名称" {
		t.Errorf("table headers = %v", got)
	}

	// 改掉底层数据后再查，命中缓存应返回旧结果
	changed := &model.ReportRecord{
		ID: "rec-1", StoreID: ident.ID, Period: "2025-06",
		SheetName: "杭州一店", Headers: []string{"改过的列"},
		Fields: model.NewFinancialData(), UploadedAt: time.Now(),
	}
	if err := mem.UpsertReport(ctx, changed); err != nil {
		t.Fatalf("UpsertReport: %v", err)
	}

	code, second := get()
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", code, second)
	}
	if !bytes.Equal(first, second) {
		t.Error("second query should be served from cache")
	}

	stats, err := mem.GetQueryStats(ctx, ident.ID)
	if err != nil {
		t.Fatalf("GetQueryStats: %v", err)
	}
	if stats.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2 (缓存命中同样计数)", stats.QueryCount)
	}
}

func TestQueryReportsPeriodsFilter(t *testing.T) {
	r, mem := newTestRouter(t)
	ident := seedStore(t, mem)

	older := &model.ReportRecord{
		ID: "rec-0", StoreID: ident.ID, Period: "2025-05",
		SheetName: "杭州一店", Fields: model.NewFinancialData(), UploadedAt: time.Now(),
	}
	if err := mem.UpsertReport(context.Background(), older); err != nil {
		t.Fatalf("UpsertReport: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stores/"+ident.ID+"/reports?periods=2025-05", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Reports []struct {
			Period string `json:"period"`
		} `json:"reports"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Reports) != 1 || resp.Reports[0].Period != "2025-05" {
		t.Fatalf("reports = %+v, want only 2025-05", resp.Reports)
	}
}

func TestQueryReportsUnknownStore(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stores/nope/reports", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestListPeriods(t *testing.T) {
	r, mem := newTestRouter(t)
	ident := seedStore(t, mem)

	older := &model.ReportRecord{
		ID: "rec-0", StoreID: ident.ID, Period: "2025-05",
		SheetName: "杭州一店", Fields: model.NewFinancialData(), UploadedAt: time.Now(),
	}
	if err := mem.UpsertReport(context.Background(), older); err != nil {
		t.Fatalf("UpsertReport: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stores/"+ident.ID+"/periods", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Periods []string `json:"periods"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Periods) != 2 || resp.Periods[0] != "2025-06" || resp.Periods[1] != "2025-05" {
		t.Fatalf("periods = %v, want [2025-06 2025-05]", resp.Periods)
	}
}

func TestVerifyQueryCode(t *testing.T) {
	r, mem := newTestRouter(t)
	ident := seedStore(t, mem)

	entry := &model.PermissionEntry{
		QueryCode: "QC001",
		StoreID:   ident.ID,
		StoreName: ident.CanonicalName,
		UpdatedAt: time.Now(),
	}
	if err := mem.UpsertPermission(context.Background(), entry); err != nil {
		t.Fatalf("UpsertPermission: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"query_code": "QC001"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Store model.StoreIdentity `json:"store"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Store.ID != ident.ID {
		t.Errorf("store id = %s, want %s", resp.Store.ID, ident.ID)
	}
}

func TestVerifyQueryCodeRejectsUnknown(t *testing.T) {
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{"query_code": "NOPE"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", strings.NewReader("not-json"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

// TestUploadPermissionsFlow 权限表上传后，查询码立即可用
func TestUploadPermissionsFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	csv := "\uFEFF查询编号,门店名称\nQC001,杭州一店\nQC002,深圳湾店\n"
	body, contentType := multipartBody(t, "permissions.csv", []byte(csv), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/permissions/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	var result model.PermissionUploadResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Created != 2 || result.Processed != 2 {
		t.Fatalf("result = %+v, want 2 created", result)
	}

	verifyBody, _ := json.Marshal(map[string]string{"query_code": "QC002"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", bytes.NewReader(verifyBody))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("verify after upload failed: %d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadPermissionsRejectsGarbage(t *testing.T) {
	r, _ := newTestRouter(t)

	body, contentType := multipartBody(t, "permissions.xlsx", []byte("not a workbook"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/permissions/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestDownloadReportCSV(t *testing.T) {
	r, mem := newTestRouter(t)
	ident := seedStore(t, mem)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+ident.ID+"/2025-06.csv", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/csv; charset=utf-8" {
		t.Errorf("content type = %s", got)
	}
	disposition := w.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, `attachment; filename="store-report-2025-06.csv"`) {
		t.Errorf("disposition = %s", disposition)
	}
	if !strings.Contains(disposition, "filename*=UTF-8''") {
		t.Errorf("disposition lacks utf-8 name: %s", disposition)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\uFEFF")) {
		t.Error("csv should start with UTF-8 BOM")
	}
	if !strings.Contains(w.Body.String(), "营业收入") {
		t.Error("csv body missing data rows")
	}
}

func TestDownloadReportXLSX(t *testing.T) {
	r, mem := newTestRouter(t)
	ident := seedStore(t, mem)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+ident.ID+"/2025-06.xlsx", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != xlsxContentType {
		t.Errorf("content type = %s", got)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer wb.Close()
	sheets := wb.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "汇总" || sheets[1] != "门店报表" {
		t.Fatalf("sheets = %v, want [汇总 门店报表]", sheets)
	}
}

func TestDownloadReportErrors(t *testing.T) {
	r, mem := newTestRouter(t)
	ident := seedStore(t, mem)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/nope/2025-06.csv", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown store: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+ident.ID+"/2025-01.csv", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown period: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+ident.ID+"/2025-06.pdf", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad extension: status = %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSystemEndpoints(t *testing.T) {
	r, mem := newTestRouter(t)
	seedStore(t, mem)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d body=%s", w.Code, w.Body.String())
	}
	var stats model.SystemStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.StoreCount != 1 || stats.RecordCount != 1 {
		t.Errorf("stats = %+v, want 1 store 1 record", stats)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stores", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stores status = %d", w.Code)
	}
	var storesResp struct {
		Stores []model.StoreIdentity `json:"stores"`
		Total  int                   `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &storesResp); err != nil {
		t.Fatalf("unmarshal stores: %v", err)
	}
	if storesResp.Total != 1 {
		t.Errorf("total = %d, want 1", storesResp.Total)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/uploads", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("uploads status = %d", w.Code)
	}
}
