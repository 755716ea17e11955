package v1

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ginkii/store-report-system-sub000/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DownloadExport 下载指定门店指定月份的重建报表
// GET /api/v1/exports/:id/:filename  filename 形如 2025-06.csv / 2025-06.xlsx
func (h *Handler) DownloadExport(c *gin.Context) {
	storeID := c.Param("id")
	filename := c.Param("filename")
	ext := strings.ToLower(path.Ext(filename))
	period := strings.TrimSuffix(filename, path.Ext(filename))

	switch ext {
	case ".csv":
		data, name, err := h.exporter.ExportCSV(c.Request.Context(), storeID, period)
		if err != nil {
			exportError(c, err)
			return
		}
		c.Header("Content-Disposition", contentDisposition(fmt.Sprintf("store-report-%s.csv", period), name))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)

	case ".xlsx":
		file, name, err := h.exporter.ExportExcel(c.Request.Context(), storeID, period)
		if err != nil {
			exportError(c, err)
			return
		}
		defer file.Close()

		c.Header("Content-Disposition", contentDisposition(fmt.Sprintf("store-report-%s.xlsx", period), name))
		c.Header("Content-Type", xlsxContentType)
		c.Status(http.StatusOK)
		if err := file.Write(c.Writer); err != nil {
			h.logger.Warn("写出导出文件失败", "store_id", storeID, "period", period, "error", err)
		}

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的导出格式，仅支持 .csv 与 .xlsx"})
	}
}

func exportError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrStoreNotFound) || errors.Is(err, store.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "导出失败: " + err.Error()})
}

// contentDisposition 附件下载头，中文文件名按 RFC 5987 编码并附 ASCII 回退名
func contentDisposition(fallback, name string) string {
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", fallback, url.PathEscape(name))
}
