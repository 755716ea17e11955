package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ginkii/store-report-system-sub000/internal/excel"
	"github.com/ginkii/store-report-system-sub000/internal/permission"
	"github.com/ginkii/store-report-system-sub000/internal/store"
)

// UploadPermissions 上传查询码权限表（工作簿或 CSV）
// POST /api/v1/permissions/upload  表单字段: file
func (h *Handler) UploadPermissions(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未找到上传文件"})
		return
	}

	data, ok := h.readUpload(c, fileHeader)
	if !ok {
		return
	}

	result, err := h.permissions.UploadTable(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, excel.ErrInvalidWorkbookFormat),
			errors.Is(err, permission.ErrTooFewColumns),
			errors.Is(err, permission.ErrNoDataRows):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "处理权限表失败: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListPermissions 权限配置列表
// GET /api/v1/permissions
func (h *Handler) ListPermissions(c *gin.Context) {
	perms, err := h.store.ListPermissions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询权限配置失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms, "total": len(perms)})
}

// VerifyQueryCode 查询码换门店，一对一关系
// POST /api/v1/auth/verify  请求体: {"query_code": "..."}
func (h *Handler) VerifyQueryCode(c *gin.Context) {
	var req struct {
		QueryCode string `json:"query_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}

	ident, err := h.permissions.Verify(c.Request.Context(), req.QueryCode)
	if err != nil {
		if errors.Is(err, store.ErrPermissionNotFound) || errors.Is(err, store.ErrStoreNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "查询码无效"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "验证查询码失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"store": ident})
}
