package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz 健康检查
// GET /api/v1/healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now()})
}

// GetStats 系统统计：门店数、记录数、权限数、查询总量、最近上传时间
// GET /api/v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取系统统计失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListUploads 上传留档记录，倒序
// GET /api/v1/uploads?limit=N
func (h *Handler) ListUploads(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	logs, err := h.store.ListUploadLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询上传记录失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": logs, "total": len(logs)})
}

// ListStores 门店档案列表
// GET /api/v1/stores
func (h *Handler) ListStores(c *gin.Context) {
	stores, err := h.store.ListStores(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询门店列表失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stores": stores, "total": len(stores)})
}
