package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`           // 角色
	Content string      `json:"content"`        // 内容
	Name    string      `json:"name,omitempty"` // 可选名称标识
}

// ChatCompletionRequest OpenAI兼容的聊天补全请求结构
type ChatCompletionRequest struct {
	Model       string    `json:"model"`                 // 模型名称
	Messages    []Message `json:"messages"`              // 对话消息列表
	MaxTokens   *int      `json:"max_tokens,omitempty"`  // 最大生成Token数
	Temperature *float32  `json:"temperature,omitempty"` // 采样温度
	TopP        *float32  `json:"top_p,omitempty"`       // 核采样概率阈值
	Stream      bool      `json:"stream,omitempty"`      // 是否流式输出
}

// ChatCompletionChoice 聊天补全的单个候选结果
type ChatCompletionChoice struct {
	Index        int     `json:"index"`         // 候选序号
	Message      Message `json:"message"`       // 生成的消息
	FinishReason string  `json:"finish_reason"` // 结束原因
}

// ChatCompletionResponse OpenAI兼容的聊天补全响应结构
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`      // 响应ID
	Model   string                 `json:"model"`   // 实际使用的模型
	Choices []ChatCompletionChoice `json:"choices"` // 候选结果列表
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Response 统一的响应结构
type Response struct {
	Text       string    // 生成的文本
	Messages   []Message // 消息列表（如果是对话）
	TokenCount int       // 使用的token数
	ModelName  string    // 使用的模型名称
	FinishTime time.Time // 完成时间
}

// Model 常用模型名称
const (
	ModelMistralTiny  = "mistral-tiny"         // Mistral轻量模型（快，适合改写类任务）
	ModelMistralSmall = "mistral-small-latest" // Mistral小型模型（平衡速度和性能）
	ModelMistralLarge = "mistral-large-latest" // Mistral大型模型（高级能力，速度较慢）
)
