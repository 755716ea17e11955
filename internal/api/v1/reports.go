package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ginkii/store-report-system-sub000/internal/excel"
	"github.com/ginkii/store-report-system-sub000/internal/export"
	"github.com/ginkii/store-report-system-sub000/internal/importer"
	"github.com/ginkii/store-report-system-sub000/internal/model"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

// reportView 查询响应中的单期报表
type reportView struct {
	Period     string              `json:"period"`
	SheetName  string              `json:"sheetName"`
	UploadedAt time.Time           `json:"uploadedAt"`
	Table      export.Table        `json:"table"`
	Fields     model.FinancialData `json:"fields"`
	Receivable receivableView      `json:"receivable"`
}

// receivableView 应收差额与结算方向
type receivableView struct {
	NetAmount float64 `json:"netAmount"`
	Direction string  `json:"direction"`
}

// UploadReports 上传月度报表工作簿，SSE 流式返回进度，最后一条为导入报告
// POST /api/v1/reports/upload  表单字段: file, period, replace_all
func (h *Handler) UploadReports(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未找到上传文件"})
		return
	}

	period := strings.TrimSpace(c.PostForm("period"))
	if period == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少报表月份 period"})
		return
	}
	replaceAll := c.DefaultPostForm("replace_all", "false") == "true"

	data, ok := h.readUpload(c, fileHeader)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	// 断连不中断导入，批量上传以跑完为准
	events := h.coordinator.Import(context.Background(), importer.Options{
		Filename:   fileHeader.Filename,
		Data:       data,
		Period:     period,
		ReplaceAll: replaceAll,
	})

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		flusher.Flush()
	}

	// 导入改动了报表数据，查询缓存一律作废
	h.cache.Purge()
}

// QueryReports 查询门店报表，返回重建后的展示表格
// GET /api/v1/stores/:id/reports?limit=N&periods=2025-06,2025-05
// periods 缺省时取最近各期
func (h *Handler) QueryReports(c *gin.Context) {
	storeID := c.Param("id")

	ident, err := h.store.GetStore(c.Request.Context(), storeID)
	if err != nil {
		if errors.Is(err, store.ErrStoreNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "门店不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询门店失败: " + err.Error()})
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var periods []string
	if v := c.Query("periods"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				periods = append(periods, p)
			}
		}
	}

	// 查询计数在缓存判定之前，命中缓存的查询同样计数
	if err := h.store.BumpQueryStats(c.Request.Context(), storeID); err != nil {
		h.logger.Warn("查询计数失败", "store_id", storeID, "error", err)
	}

	cacheKey := fmt.Sprintf("reports:%s:%d:%s", storeID, limit, strings.Join(periods, ","))
	if cached, ok := h.cache.Get(cacheKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	recs, err := h.store.GetReports(c.Request.Context(), storeID, periods, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报表失败: " + err.Error()})
		return
	}

	views := make([]reportView, 0, len(recs))
	for _, rec := range recs {
		net := rec.Fields.NetReceivable()
		views = append(views, reportView{
			Period:     rec.Period,
			SheetName:  rec.SheetName,
			UploadedAt: rec.UploadedAt,
			Table:      export.RebuildTable(rec.Headers, rec.RawRows),
			Fields:     rec.Fields,
			Receivable: receivableView{
				NetAmount: net,
				Direction: model.ReceivableDirection(net),
			},
		})
	}

	response := gin.H{"store": ident, "reports": views}
	h.cache.Set(cacheKey, response)
	c.JSON(http.StatusOK, response)
}

// ListPeriods 门店可查询的报表月份，倒序
// GET /api/v1/stores/:id/periods
func (h *Handler) ListPeriods(c *gin.Context) {
	storeID := c.Param("id")

	if _, err := h.store.GetStore(c.Request.Context(), storeID); err != nil {
		if errors.Is(err, store.ErrStoreNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "门店不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询门店失败: " + err.Error()})
		return
	}

	periods, err := h.store.GetAvailablePeriods(c.Request.Context(), storeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报表月份失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"periods": periods})
}

// readUpload 读取上传文件内容并执行字节上限校验
func (h *Handler) readUpload(c *gin.Context, fileHeader *multipart.FileHeader) ([]byte, bool) {
	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败"})
		return nil, false
	}
	if int64(len(data)) > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": excel.ErrFileTooLarge.Error()})
		return nil, false
	}
	return data, true
}
