package handlers

import (
	"errors"
	"net/http"

	"github.com/Mieluoxxx/NoFail-API/internal/completion"
	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// 通用错误码
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// completionErrorDetails 补全错误附带的上下文
type completionErrorDetails struct {
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

// statusForCode 补全错误码对应的 HTTP 状态码
func statusForCode(code string) int {
	switch code {
	case completion.CodeModelUnknown, completion.CodeProviderUnknown:
		return http.StatusUnprocessableEntity
	case completion.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case completion.CodeProviderCallFailed, completion.CodeUnexpectedResponseShape:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithCompletionError 输出补全错误
// 非 completion.Error 的错误来自显式模式下的供应商调用
func abortWithCompletionError(c *gin.Context, err error, model, provider string) {
	var cErr *completion.Error
	if !errors.As(err, &cErr) {
		cErr = completion.NewProviderCallFailedError(model, provider, err)
	}

	details := completionErrorDetails{
		Model:    cErr.Model,
		Provider: cErr.Provider,
		Attempts: cErr.Attempts,
	}
	if cErr.Err != nil {
		details.Cause = cErr.Err.Error()
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(statusForCode(cErr.Code), ErrorResponse{
		Error: ErrorDetail{
			Code:    cErr.Code,
			Message: cErr.Message,
			Details: details,
		},
	})
}

// abortWithValidationError 输出请求参数错误
func abortWithValidationError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    CodeValidationError,
			Message: "Invalid request parameters",
			Details: err.Error(),
		},
	})
}
