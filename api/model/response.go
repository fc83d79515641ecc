package model

import (
	"encoding/json"
	"time"

	"github.com/fyerfyer/tender-response-system/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	DocumentID string `json:"document_id"` // 文档ID
	FileName   string `json:"filename"`    // 文件名
	Status     string `json:"status"`      // 处理状态
	Progress   int    `json:"progress"`    // 处理进度（0-100）
}

// DocumentInfo 文档信息
type DocumentInfo struct {
	DocumentID  string     `json:"document_id"`            // 文档ID
	FileName    string     `json:"filename"`               // 文件名
	FileType    string     `json:"file_type"`              // 文件类型
	FileSize    int64      `json:"file_size"`              // 文件大小（字节）
	Status      string     `json:"status"`                 // 处理状态
	StatusLabel string     `json:"status_label"`           // 状态描述文案
	Progress    int        `json:"progress"`               // 处理进度（0-100）
	Error       string     `json:"error,omitempty"`        // 错误信息（如果有）
	TenantID    string     `json:"tenant_id,omitempty"`    // 所属租户
	UploadedAt  time.Time  `json:"uploaded_at"`            // 上传时间
	ProcessedAt *time.Time `json:"processed_at,omitempty"` // 处理完成时间
}

// ConvertDocumentInfo 将文档模型转换为API响应信息
func ConvertDocumentInfo(doc *models.Document) DocumentInfo {
	return DocumentInfo{
		DocumentID:  doc.ID,
		FileName:    doc.FileName,
		FileType:    doc.FileType,
		FileSize:    doc.FileSize,
		Status:      string(doc.Status),
		StatusLabel: models.StatusLabel(doc.Status),
		Progress:    doc.Progress,
		Error:       doc.ErrorMessage,
		TenantID:    doc.TenantID,
		UploadedAt:  doc.UploadedAt,
		ProcessedAt: doc.ProcessedAt,
	}
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64          `json:"total"`     // 总数量
	Page      int            `json:"page"`      // 当前页码
	PageSize  int            `json:"page_size"` // 每页大小
	Documents []DocumentInfo `json:"documents"` // 文档列表
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success    bool   `json:"success"`     // 是否成功
	DocumentID string `json:"document_id"` // 文档ID
}

// RequirementInfo 需求条目信息
type RequirementInfo struct {
	ID          string  `json:"id"`                     // 需求ID
	Text        string  `json:"text"`                   // 需求原文
	Category    string  `json:"category"`               // 类别
	SubCategory string  `json:"sub_category,omitempty"` // 子类别
	Confidence  float64 `json:"confidence"`             // 分类置信度
	PageNumber  *int    `json:"page_number,omitempty"`  // 页码
	Order       int     `json:"order"`                  // 提取顺序
}

// ConvertRequirementInfo 将需求模型转换为API响应信息
func ConvertRequirementInfo(req *models.Requirement) RequirementInfo {
	return RequirementInfo{
		ID:          req.ID,
		Text:        req.Text,
		Category:    string(req.Category),
		SubCategory: req.SubCategory,
		Confidence:  req.Confidence,
		PageNumber:  req.PageNumber,
		Order:       req.ExtractOrder,
	}
}

// MatchInfo 匹配记录信息
type MatchInfo struct {
	RequirementID  string  `json:"requirement_id"`  // 需求ID
	KBItemID       string  `json:"kb_item_id"`      // 知识库条目ID
	MatchedContent string  `json:"matched_content"` // 匹配内容（截取）
	Score          float32 `json:"score"`           // 相似度得分（0-1）
	Rank           int     `json:"rank"`            // 排名
}

// MatchSummaryInfo 匹配汇总信息
type MatchSummaryInfo struct {
	DocumentID          string  `json:"document_id"`          // 文档ID
	EligibilityMatch    float64 `json:"eligibility_match"`    // 资格类平均匹配度
	TechnicalMatch      float64 `json:"technical_match"`      // 技术类平均匹配度
	ComplianceMatch     float64 `json:"compliance_match"`     // 合规类平均匹配度
	OverallMatch        float64 `json:"overall_match"`        // 总体匹配度
	TotalRequirements   int     `json:"total_requirements"`   // 需求总数
	MatchedRequirements int     `json:"matched_requirements"` // 达标需求数
}

// KnowledgeItemInfo 知识库条目信息
type KnowledgeItemInfo struct {
	ID        string    `json:"id"`                  // 条目ID
	Title     string    `json:"title"`               // 标题
	Content   string    `json:"content"`             // 正文内容
	Category  string    `json:"category,omitempty"`  // 内容类别
	TenantID  string    `json:"tenant_id,omitempty"` // 所属租户
	Active    bool      `json:"active"`              // 是否生效
	CreatedAt time.Time `json:"created_at"`          // 创建时间
	UpdatedAt time.Time `json:"updated_at"`          // 更新时间
}

// ConvertKnowledgeItemInfo 将知识库条目模型转换为API响应信息
func ConvertKnowledgeItemInfo(item *models.KnowledgeBaseItem) KnowledgeItemInfo {
	return KnowledgeItemInfo{
		ID:        item.ID,
		Title:     item.Title,
		Content:   item.Content,
		Category:  item.Category,
		TenantID:  item.TenantID,
		Active:    item.Active,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

// KnowledgeSyncResponse 知识库索引重建响应
type KnowledgeSyncResponse struct {
	ItemCount int    `json:"item_count"`        // 重建后的条目数量
	TaskID    string `json:"task_id,omitempty"` // 异步任务ID（异步模式）
}

// ResponseInfo 应答草稿信息
type ResponseInfo struct {
	ID            string          `json:"id"`                   // 应答ID
	DocumentID    string          `json:"document_id"`          // 所属文档ID
	RequirementID string          `json:"requirement_id"`       // 需求ID
	Text          string          `json:"text"`                 // 应答文本
	Provenance    json.RawMessage `json:"provenance,omitempty"` // 内容来源区间
	KBPercentage  float64         `json:"kb_percentage"`        // 知识库内容占比
	AIPercentage  float64         `json:"ai_percentage"`        // AI生成内容占比
	GatePassed    bool            `json:"gate_passed"`          // 是否通过AI占比阈值
	NeedsReview   bool            `json:"needs_review"`         // 是否需要人工复查
	Status        string          `json:"status"`               // 审核状态
	CreatedAt     time.Time       `json:"created_at"`           // 创建时间
	UpdatedAt     time.Time       `json:"updated_at"`           // 更新时间
}

// ConvertResponseInfo 将应答模型转换为API响应信息
func ConvertResponseInfo(resp *models.Response) ResponseInfo {
	return ResponseInfo{
		ID:            resp.ID,
		DocumentID:    resp.DocumentID,
		RequirementID: resp.RequirementID,
		Text:          resp.Text,
		Provenance:    json.RawMessage(resp.Provenance),
		KBPercentage:  resp.KBPercentage,
		AIPercentage:  resp.AIPercentage,
		GatePassed:    resp.GatePassed,
		NeedsReview:   resp.NeedsReview,
		Status:        string(resp.Status),
		CreatedAt:     resp.CreatedAt,
		UpdatedAt:     resp.UpdatedAt,
	}
}

// GenerateResponsesResponse 批量应答生成响应
type GenerateResponsesResponse struct {
	DocumentID string `json:"document_id"`       // 文档ID
	Generated  int    `json:"generated"`         // 成功生成数量
	Failed     int    `json:"failed"`            // 失败数量
	TaskID     string `json:"task_id,omitempty"` // 异步任务ID（异步模式）
}

// HumanizeResponse 文本改写响应
type HumanizeResponse struct {
	OriginalText  string   `json:"original_text"`  // 原文
	HumanizedText string   `json:"humanized_text"` // 改写后文本
	OriginalScore float64  `json:"original_score"` // 改写前机器生成得分
	FinalScore    float64  `json:"final_score"`    // 改写后机器生成得分
	Techniques    []string `json:"techniques"`     // 应用的改写手段
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int64 `json:"total"`     // 总记录数
	Page     int   `json:"page"`      // 当前页码
	PageSize int   `json:"page_size"` // 每页大小
}
