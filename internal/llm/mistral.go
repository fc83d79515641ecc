package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// Mistral聊天补全API端点
	defaultMistralEndpoint = "https://api.mistral.ai/v1/chat/completions"
)

// MistralClient Mistral大模型客户端实现
// 走OpenAI兼容的chat completions协议，任何同协议的服务都可以通过BaseURL接入
type MistralClient struct {
	apiKey      string       // API密钥
	baseURL     string       // API端点
	model       string       // 模型名称
	httpClient  *http.Client // HTTP客户端
	maxRetries  int          // 最大重试次数
	maxTokens   int          // 最大生成Token数
	temperature float32      // 温度参数
	topP        float32      // topP参数
}

// NewMistralClient 创建新的Mistral大模型客户端
func NewMistralClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultMistralEndpoint
	}

	return &MistralClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}, nil
}

// Name 返回模型名称
func (c *MistralClient) Name() string {
	return c.model
}

// Generate 根据提示词生成回答
func (c *MistralClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}

	opts := &GenerateOptions{}
	for _, opt := range options {
		opt(opts)
	}

	// 单个提示转换为消息格式调用
	messages := []Message{
		{Role: RoleUser, Content: prompt},
	}

	chatOpts := &ChatOptions{
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}

	return c.doChat(ctx, messages, chatOpts)
}

// Chat 进行多轮对话
func (c *MistralClient) Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}

	opts := &ChatOptions{}
	for _, opt := range options {
		opt(opts)
	}

	return c.doChat(ctx, messages, opts)
}

// doChat 执行聊天补全请求
func (c *MistralClient) doChat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	req := ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}

	// 请求级选项覆盖客户端默认值
	maxTokens := c.maxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}

	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	req.Temperature = &temperature

	topP := c.topP
	if opts.TopP != nil {
		topP = *opts.TopP
	}
	if topP > 0 {
		req.TopP = &topP
	}

	var resp ChatCompletionResponse
	if err := c.sendRequest(ctx, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, NewLLMError(ErrCodeServerError, "no completion choices returned")
	}

	choice := resp.Choices[0]
	return &Response{
		Text:       choice.Message.Content,
		Messages:   append(messages, choice.Message),
		TokenCount: resp.Usage.TotalTokens,
		ModelName:  resp.Model,
		FinishTime: time.Now(),
	}, nil
}

// sendRequest 发送API请求并解析响应，5xx和限流按指数退避重试
func (c *MistralClient) sendRequest(ctx context.Context, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewLLMError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		// 每次重试重建请求，请求体不能跨次复用
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(jsonData))
		if err != nil {
			return NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
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
		return NewLLMError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", lastErr))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewLLMError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil {
			if errResp.Error.Message != "" {
				return NewLLMError(statusToErrCode(resp.StatusCode), errResp.Error.Message)
			}
			if errResp.Message != "" {
				return NewLLMError(statusToErrCode(resp.StatusCode), errResp.Message)
			}
		}

		return NewLLMError(statusToErrCode(resp.StatusCode),
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, respObj); err != nil {
		return NewLLMError(ErrCodeServerError, fmt.Sprintf("failed to parse response: %v", err))
	}

	return nil
}

// statusToErrCode 把HTTP状态码映射为错误码
func statusToErrCode(status int) int {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeInvalidAPIKey
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case http.StatusBadRequest:
		return ErrCodeInvalidRequest
	default:
		return ErrCodeServerError
	}
}

// 注册Mistral客户端
func init() {
	RegisterClient("mistral", NewMistralClient)
	RegisterClient("openai", NewMistralClient)
}
