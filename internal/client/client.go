package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// CallError 供应商调用失败，携带上游返回的错误体
type CallError struct {
	Provider   string
	Model      string
	StatusCode int
	Body       map[string]any
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%s): HTTP %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ResponseBody 上游错误体，写入故障记录
func (e *CallError) ResponseBody() map[string]any {
	return e.Body
}

// Client OpenAI 兼容的供应商客户端
// 每个供应商复用一个 go-openai 客户端
type Client struct {
	mu         sync.Mutex
	clients    map[string]*openai.Client
	httpClient *http.Client
	logger     *zap.Logger
}

// New 创建客户端，httpClient 为空时使用默认超时
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		clients:    make(map[string]*openai.Client),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Execute 调用供应商的 chat completions 接口，返回第一个 choice 的文本
func (c *Client) Execute(ctx context.Context, model string, p *provider.Descriptor, messages []models.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}

	resp, err := c.clientFor(p).CreateChatCompletion(ctx, req)
	if err != nil {
		callErr := newCallError(p.Name, model, err)
		c.logger.Debug("provider call failed",
			zap.String("provider", p.Name),
			zap.String("model", model),
			zap.Int("status_code", callErr.StatusCode),
			zap.Error(err),
		)
		return "", callErr
	}

	if len(resp.Choices) == 0 {
		return "", &CallError{
			Provider: p.Name,
			Model:    model,
			Body:     map[string]any{"id": resp.ID, "model": resp.Model},
			Err:      fmt.Errorf("no response from the provider: %w", balancer.ErrValidation),
		}
	}

	return resp.Choices[0].Message.Content, nil
}

// clientFor 获取或创建供应商的 go-openai 客户端
func (c *Client) clientFor(p *provider.Descriptor) *openai.Client {
	key := p.Name + "|" + p.BaseURL

	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[key]; ok {
		return cl
	}

	apiKey := p.APIKey
	if apiKey == "" {
		apiKey = "not-needed" // 部分免费供应商不校验密钥
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimSuffix(p.BaseURL, "/") + "/v1"
	config.HTTPClient = c.httpClient

	cl := openai.NewClientWithConfig(config)
	c.clients[key] = cl
	return cl
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// newCallError 提取 go-openai 错误中的状态码和错误体
func newCallError(providerName, model string, err error) *CallError {
	callErr := &CallError{Provider: providerName, Model: model, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		callErr.StatusCode = apiErr.HTTPStatusCode
		callErr.Body = map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
			"type":    apiErr.Type,
		}
		if apiErr.Param != nil {
			callErr.Body["param"] = *apiErr.Param
		}
	case errors.As(err, &reqErr):
		callErr.StatusCode = reqErr.HTTPStatusCode
		if len(reqErr.Body) > 0 {
			var body map[string]any
			if json.Unmarshal(reqErr.Body, &body) == nil {
				callErr.Body = body
			} else {
				callErr.Body = map[string]any{"body": string(reqErr.Body)}
			}
		}
	}

	return callErr
}
