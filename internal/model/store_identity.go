package model

import "time"

// StoreStatus 门店状态
type StoreStatus string

const (
	StoreActive   StoreStatus = "active"   // 正常营业
	StoreInactive StoreStatus = "inactive" // 停用
)

// StoreIdentity 门店身份档案
// 上传路径首次遇到未知 sheet 名时懒创建，此后只追加别名，管道内从不删除
type StoreIdentity struct {
	ID            string      `json:"id"`
	CanonicalName string      `json:"canonicalName"` // 规范门店名
	ShortCode     string      `json:"shortCode"`     // 确定性短码，派生自规范名
	Aliases       []string    `json:"aliases"`       // 曾解析到本门店的原始名称
	Region        string      `json:"region"`        // 区域，可为空
	Status        StoreStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// HasAlias 判断是否已记录该别名
func (s *StoreIdentity) HasAlias(name string) bool {
	if name == s.CanonicalName {
		return true
	}
	for _, a := range s.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// AddAlias 追加别名，幂等
func (s *StoreIdentity) AddAlias(name string) {
	if name == "" || s.HasAlias(name) {
		return
	}
	s.Aliases = append(s.Aliases, name)
}

// PermissionEntry 查询码到门店的一对一映射
// 重复 query_code 的再次上传为覆盖写，不做合并
type PermissionEntry struct {
	QueryCode string    `json:"queryCode"`
	StoreID   string    `json:"storeId"`
	StoreName string    `json:"storeName"` // 上传时的门店名，便于后台查看
	UpdatedAt time.Time `json:"updatedAt"`
}

// QueryStats 门店查询统计
type QueryStats struct {
	StoreID       string    `json:"storeId"`
	QueryCount    int       `json:"queryCount"`
	LastQueryTime time.Time `json:"lastQueryTime"`
}

// DetectedColumns 权限表自动识别出的两列表头
type DetectedColumns struct {
	QueryCode string `json:"queryCode"`
	StoreName string `json:"storeName"`
}

// PermissionUploadResult 权限表上传汇总
// 行级错误只累积不中断，文件级错误由调用方以 error 返回
type PermissionUploadResult struct {
	Processed       int             `json:"processed"`
	Created         int             `json:"created"`
	Updated         int             `json:"updated"`
	Errors          []string        `json:"errors"`
	DetectedColumns DetectedColumns `json:"detectedColumns"`
}
