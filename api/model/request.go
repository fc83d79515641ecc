package model

import (
	"mime/multipart"
	"time"
)

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// DocumentUploadRequest 标书文档上传请求
type DocumentUploadRequest struct {
	File     *multipart.FileHeader `form:"file" binding:"required"`                        // 文件对象
	TenantID string                `form:"tenant_id" json:"tenant_id" binding:"omitempty"` // 所属租户（可选）
}

// DocumentIDRequest 文档路径参数
type DocumentIDRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	StartTime *time.Time `form:"start_time" json:"start_time" binding:"omitempty"` // 开始时间
	EndTime   *time.Time `form:"end_time" json:"end_time" binding:"omitempty"`     // 结束时间
	Status    string     `form:"status" json:"status" binding:"omitempty"`         // 文档状态
	TenantID  string     `form:"tenant_id" json:"tenant_id" binding:"omitempty"`   // 租户过滤
}

// KnowledgeItemRequest 知识库条目创建请求
type KnowledgeItemRequest struct {
	Title    string `json:"title" binding:"required"`      // 标题
	Content  string `json:"content" binding:"required"`    // 正文内容
	Category string `json:"category" binding:"omitempty"`  // 内容类别（可选）
	TenantID string `json:"tenant_id" binding:"omitempty"` // 所属租户（可选）
}

// KnowledgeItemUpdateRequest 知识库条目更新请求
// 空字符串字段保留原值，Active总是生效
type KnowledgeItemUpdateRequest struct {
	Title    string `json:"title" binding:"omitempty"`
	Content  string `json:"content" binding:"omitempty"`
	Category string `json:"category" binding:"omitempty"`
	Active   *bool  `json:"active" binding:"omitempty"`
}

// KnowledgeListRequest 知识库列表请求
type KnowledgeListRequest struct {
	PaginationRequest
	Category string `form:"category" json:"category" binding:"omitempty"`   // 类别过滤
	TenantID string `form:"tenant_id" json:"tenant_id" binding:"omitempty"` // 租户过滤
}

// KnowledgeSyncRequest 知识库索引重建请求
type KnowledgeSyncRequest struct {
	TenantID string `json:"tenant_id" binding:"omitempty"` // 租户ID，空表示全部
	Async    bool   `json:"async" binding:"omitempty"`     // 是否异步执行
}

// GenerateResponsesRequest 批量应答生成请求
type GenerateResponsesRequest struct {
	RequirementIDs []string `json:"requirement_ids" binding:"omitempty"` // 指定需求，空表示全部
	Style          string   `json:"style" binding:"omitempty"`           // 写作风格
	Mode           string   `json:"mode" binding:"omitempty"`            // 改写力度：light/balanced/aggressive
	Tone           string   `json:"tone" binding:"omitempty"`            // 语气
	Async          bool     `json:"async" binding:"omitempty"`           // 是否异步执行
}

// ResponseStatusRequest 应答状态更新请求
type ResponseStatusRequest struct {
	Status string `json:"status" binding:"required"` // 目标状态：DRAFT/IN_REVIEW/APPROVED
}

// HumanizeRequest 文本改写请求
type HumanizeRequest struct {
	Text string `json:"text" binding:"required"`  // 待改写文本
	Mode string `json:"mode" binding:"omitempty"` // 改写力度：light/balanced/aggressive
}
