package completion

import "fmt"

// 错误码
const (
	CodeModelUnknown            = "MODEL_UNKNOWN"
	CodeProviderUnknown         = "PROVIDER_UNKNOWN"
	CodeProviderUnavailable     = "PROVIDER_UNAVAILABLE"
	CodeNoCandidateFound        = "NO_CANDIDATE_FOUND"
	CodeProviderCallFailed      = "PROVIDER_CALL_FAILED"
	CodeUnexpectedResponseShape = "UNEXPECTED_RESPONSE_SHAPE"
)

// Error 补全错误
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Err      error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// 预定义错误，用于 errors.Is
var (
	ErrModelUnknown            = &Error{Code: CodeModelUnknown, Message: "模型未找到"}
	ErrProviderUnknown         = &Error{Code: CodeProviderUnknown, Message: "供应商未找到"}
	ErrProviderUnavailable     = &Error{Code: CodeProviderUnavailable, Message: "暂无可用供应商"}
	ErrNoCandidateFound        = &Error{Code: CodeNoCandidateFound, Message: "没有可用的模型与供应商组合"}
	ErrProviderCallFailed      = &Error{Code: CodeProviderCallFailed, Message: "供应商调用失败"}
	ErrUnexpectedResponseShape = &Error{Code: CodeUnexpectedResponseShape, Message: "供应商返回了无法识别的响应"}
)

// NewModelUnknownError 创建模型未找到错误
func NewModelUnknownError(model string) *Error {
	return &Error{
		Code:    CodeModelUnknown,
		Message: "模型 '" + model + "' 未找到",
		Model:   model,
	}
}

// NewProviderUnknownError 创建供应商未找到错误
func NewProviderUnknownError(provider string) *Error {
	return &Error{
		Code:     CodeProviderUnknown,
		Message:  "供应商 '" + provider + "' 未找到",
		Provider: provider,
	}
}

// NewProviderUnavailableError 创建暂无可用供应商错误
func NewProviderUnavailableError(model string) *Error {
	return &Error{
		Code:    CodeProviderUnavailable,
		Message: "模型 '" + model + "' 暂无可用供应商",
		Model:   model,
	}
}

// NewNoCandidateFoundError 创建候选耗尽错误，带上最后尝试的组合
func NewNoCandidateFoundError(model, provider string, attempts int, cause error) *Error {
	msg := "没有可用的模型与供应商组合"
	if model != "" || provider != "" {
		msg = fmt.Sprintf("未能从供应商获得响应，最后尝试的模型: %s，供应商: %s", model, provider)
	}
	return &Error{
		Code:     CodeNoCandidateFound,
		Message:  msg,
		Model:    model,
		Provider: provider,
		Attempts: attempts,
		Err:      cause,
	}
}

// NewUnexpectedResponseShapeError 创建响应形态错误
func NewUnexpectedResponseShapeError(model, provider string) *Error {
	return &Error{
		Code:     CodeUnexpectedResponseShape,
		Message:  "供应商 '" + provider + "' 返回了空响应",
		Model:    model,
		Provider: provider,
		Attempts: 1,
	}
}

// NewProviderCallFailedError 包装客户端错误
func NewProviderCallFailedError(model, provider string, err error) *Error {
	return &Error{
		Code:     CodeProviderCallFailed,
		Message:  "供应商 '" + provider + "' 调用失败",
		Model:    model,
		Provider: provider,
		Attempts: 1,
		Err:      err,
	}
}
