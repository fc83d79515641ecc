package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskProcessDocument 标书文档处理流水线任务（解析→提取→匹配）
	TaskProcessDocument TaskType = "process_document"
	// TaskGenerateResponse 单条需求应答生成任务
	TaskGenerateResponse TaskType = "generate_response"
	// TaskGenerateBatch 整个文档的批量应答生成任务
	TaskGenerateBatch TaskType = "generate_batch"
	// TaskRebuildIndex 知识库向量索引重建任务
	TaskRebuildIndex TaskType = "rebuild_index"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	DocumentID  string          `json:"document_id"`  // 关联的文档ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据，不同任务类型对应不同结构
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// ProcessDocumentPayload 文档处理流水线任务载荷
type ProcessDocumentPayload struct {
	DocumentID string            `json:"document_id"` // 文档ID
	FilePath   string            `json:"file_path"`   // 文件存储路径
	FileName   string            `json:"file_name"`   // 文件名
	FileType   string            `json:"file_type"`   // 文件类型
	TenantID   string            `json:"tenant_id"`   // 租户ID（可选）
	Metadata   map[string]string `json:"metadata"`    // 元数据
}

// ProcessDocumentResult 文档处理流水线任务结果
type ProcessDocumentResult struct {
	DocumentID       string  `json:"document_id"`       // 文档ID
	RequirementCount int     `json:"requirement_count"` // 提取的需求数量
	MatchedCount     int     `json:"matched_count"`     // 匹配度达标的需求数量
	OverallMatch     float64 `json:"overall_match"`     // 总体匹配度（0-100）
	Error            string  `json:"error"`             // 错误信息（如果有）
}

// GenerateResponsePayload 单条需求应答生成任务载荷
type GenerateResponsePayload struct {
	DocumentID    string `json:"document_id"`    // 文档ID
	RequirementID string `json:"requirement_id"` // 需求ID
	TenantID      string `json:"tenant_id"`      // 租户ID（可选）
	Style         string `json:"style"`          // 文体
	Mode          string `json:"mode"`           // 改写力度
	Tone          string `json:"tone"`           // 语气
}

// GenerateResponseResult 单条需求应答生成任务结果
type GenerateResponseResult struct {
	ResponseID    string  `json:"response_id"`    // 应答记录ID
	RequirementID string  `json:"requirement_id"` // 需求ID
	AIPercentage  float64 `json:"ai_percentage"`  // AI内容占比
	KBPercentage  float64 `json:"kb_percentage"`  // 知识库内容占比
	GatePassed    bool    `json:"gate_passed"`    // 是否通过AI占比阈值
	Error         string  `json:"error"`          // 错误信息（如果有）
}

// GenerateBatchPayload 批量应答生成任务载荷
type GenerateBatchPayload struct {
	DocumentID string `json:"document_id"` // 文档ID
	TenantID   string `json:"tenant_id"`   // 租户ID（可选）
	Style      string `json:"style"`       // 文体
	Mode       string `json:"mode"`        // 改写力度
	Tone       string `json:"tone"`        // 语气
}

// GenerateBatchResult 批量应答生成任务结果
type GenerateBatchResult struct {
	DocumentID string `json:"document_id"` // 文档ID
	Generated  int    `json:"generated"`   // 成功生成的应答数量
	Failed     int    `json:"failed"`      // 生成失败的需求数量
	Error      string `json:"error"`       // 错误信息（如果有）
}

// RebuildIndexPayload 索引重建任务载荷
type RebuildIndexPayload struct {
	TenantID string `json:"tenant_id"` // 租户ID，为空时重建全部
}

// RebuildIndexResult 索引重建任务结果
type RebuildIndexResult struct {
	TenantID  string `json:"tenant_id"`  // 租户ID
	ItemCount int    `json:"item_count"` // 重建后的条目数量
	Error     string `json:"error"`      // 错误信息（如果有）
}

// TaskCallback 任务回调信息
type TaskCallback struct {
	TaskID     string          `json:"task_id"`     // 任务ID
	DocumentID string          `json:"document_id"` // 文档ID
	Status     TaskStatus      `json:"status"`      // 任务状态
	Type       TaskType        `json:"type"`        // 任务类型
	Result     json.RawMessage `json:"result"`      // 任务结果
	Error      string          `json:"error"`       // 错误信息
	Timestamp  time.Time       `json:"timestamp"`   // 回调时间戳
}
