package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Mieluoxxx/NoFail-API/internal/adapter"
	"github.com/Mieluoxxx/NoFail-API/internal/completion"
	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// Completer 补全服务
type Completer interface {
	Complete(ctx context.Context, messages []models.Message, model, provider string) (*completion.Result, error)
}

// CompletionRequest 补全请求体
type CompletionRequest struct {
	Messages []models.Message `json:"messages" binding:"required,min=1,dive"`
}

// CompletionParams 补全查询参数
type CompletionParams struct {
	Model    string `form:"model"`
	Provider string `form:"provider"`
}

// CompletionResponse 补全响应
type CompletionResponse struct {
	Completion string `json:"completion"`
	Model      string `json:"model"`
	Provider   string `json:"provider"`
}

// CompletionHandler 补全 HTTP 处理器
type CompletionHandler struct {
	service Completer
	adapter *adapter.Adapter
}

// NewCompletionHandler 创建 CompletionHandler
func NewCompletionHandler(service Completer, a *adapter.Adapter) *CompletionHandler {
	if a == nil {
		a = adapter.New()
	}
	return &CompletionHandler{service: service, adapter: a}
}

// Complete 执行补全
// @Summary 获取补全
// @Tags completions
// @Accept json
// @Produce json
// @Param model query string false "模型名"
// @Param provider query string false "供应商名"
// @Success 200 {object} CompletionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/completions [post]
func (h *CompletionHandler) Complete(c *gin.Context) {
	var params CompletionParams
	if err := c.ShouldBindQuery(&params); err != nil {
		abortWithValidationError(c, err)
		return
	}

	req, err := decodeCompletionRequest(c.Request.Body)
	if err != nil {
		abortWithValidationError(c, err)
		return
	}

	result, err := h.service.Complete(c.Request.Context(), req.Messages, params.Model, params.Provider)
	if err != nil {
		abortWithCompletionError(c, err, params.Model, params.Provider)
		return
	}

	c.JSON(http.StatusOK, CompletionResponse{
		Completion: h.adapter.Adapt(result.Provider, result.Text),
		Model:      result.Model,
		Provider:   result.Provider,
	})
}

// decodeCompletionRequest 严格解析请求体，拒绝未知字段
func decodeCompletionRequest(body io.Reader) (*CompletionRequest, error) {
	if body == nil {
		return nil, errors.New("request body is empty")
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var req CompletionRequest
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is empty")
		}
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid json: trailing data")
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
