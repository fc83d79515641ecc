package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbeddingRequest OpenAI兼容嵌入API的请求结构
type EmbeddingRequest struct {
	Model          string   `json:"model"`                     // 模型名称
	Input          []string `json:"input"`                     // 需要嵌入的文本列表
	EncodingFormat string   `json:"encoding_format,omitempty"` // 编码格式
}

// EmbeddingResponse OpenAI兼容嵌入API的响应结构
type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"` // 嵌入向量
		Index     int       `json:"index"`     // 对应输入的序号
	} `json:"data"`
	Model string `json:"model"` // 实际使用的模型
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIClient OpenAI兼容协议的嵌入客户端
// Mistral、DashScope兼容模式等都走同一套/v1/embeddings协议
type OpenAIClient struct {
	apiKey     string       // API密钥
	endpoint   string       // API端点
	model      string       // 模型名称
	httpClient *http.Client // HTTP客户端
	maxRetries int          // 最大重试次数
	dimensions int          // 向量维度
	batchSize  int          // 单次请求的最大文本数
}

// NewOpenAIClient 创建新的OpenAI兼容嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = 1024
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		dimensions: dimensions,
		batchSize:  batchSize,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Dimensions 返回向量维度
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// Embed 生成单条文本的向量表示
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 || vectors[0] == nil {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding vectors returned")
	}

	return vectors[0], nil
}

// EmbedBatch 批量生成文本的向量表示，结果顺序与输入一致
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if len(texts) > c.batchSize {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest,
			fmt.Sprintf("batch size %d exceeds maximum %d", len(texts), c.batchSize))
	}

	reqData := EmbeddingRequest{
		Model:          c.model,
		Input:          texts,
		EncodingFormat: "float",
	}

	var resp EmbeddingResponse
	if err := c.sendRequest(ctx, reqData, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embeddings returned")
	}

	// 按index归位，接口允许乱序返回
	result := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			continue
		}
		result[item.Index] = item.Embedding
	}

	return result, nil
}

// sendRequest 发送API请求并解析响应，5xx和网络错误按指数退避重试
func (c *OpenAIClient) sendRequest(ctx context.Context, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		// 每次重试重建请求，请求体不能跨次复用
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
		if err != nil {
			return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
		req.Header.Set("Accept", "application/json")

		resp, err = c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			lastErr = nil
			break
		}

		if err != nil {
			lastErr = err
			resp = nil
		} else {
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			resp.Body.Close()
			resp = nil
		}
	}

	if resp == nil {
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", lastErr))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		code := codeForStatus(resp.StatusCode)

		// 尝试解析错误响应
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil {
			if errResp.Error.Message != "" {
				return NewEmbeddingError(code, errResp.Error.Message)
			}
			if errResp.Message != "" {
				return NewEmbeddingError(code, errResp.Message)
			}
		}

		return NewEmbeddingError(code,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, respObj); err != nil {
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("failed to parse response: %v", err))
	}

	return nil
}

// 注册OpenAI兼容客户端，mistral走同一协议
func init() {
	RegisterClient("openai", NewOpenAIClient)
	RegisterClient("mistral", NewOpenAIClient)
}
