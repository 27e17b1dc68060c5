package balancer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/google/uuid"
)

// ErrValidation 供应商返回了无法使用的结果（例如没有 choices）
var ErrValidation = errors.New("provider response failed validation")

// ==================== 类型定义 ====================

// FailureKind 故障类型
type FailureKind string

const (
	ValidationFailure FailureKind = "validation"
	TimeoutFailure    FailureKind = "timeout"
	OtherFailure      FailureKind = "other"
)

// ResponseCarrier 由携带原始响应的错误实现
type ResponseCarrier interface {
	ResponseBody() map[string]any
}

// FailureRecord 供应商最近一次故障
type FailureRecord struct {
	ID        string           `json:"id"`
	Provider  string           `json:"provider"`
	Kind      FailureKind      `json:"error_type"`
	Message   string           `json:"error_message"`
	Trace     string           `json:"traceback"`
	Timestamp time.Time        `json:"timestamp"`
	Model     string           `json:"model_used"`
	Messages  []models.Message `json:"messages"`
	Response  map[string]any   `json:"response"`
}

// NewFailureRecord 根据错误构建故障记录
func NewFailureRecord(provider, model string, messages []models.Message, err error) FailureRecord {
	rec := FailureRecord{
		ID:        uuid.NewString(),
		Provider:  provider,
		Kind:      Classify(err),
		Timestamp: time.Now(),
		Model:     model,
		Messages:  append([]models.Message(nil), messages...),
	}
	if err != nil {
		rec.Message = err.Error()
		rec.Trace = Trace(err)

		var carrier ResponseCarrier
		if errors.As(err, &carrier) {
			rec.Response = carrier.ResponseBody()
		}
	}
	return rec
}

// ==================== 故障账本 ====================

// FailureLedger 每个供应商只保留最后一次故障
type FailureLedger struct {
	mu       sync.RWMutex
	failures map[string]FailureRecord
}

// NewFailureLedger 创建故障账本
func NewFailureLedger() *FailureLedger {
	return &FailureLedger{
		failures: make(map[string]FailureRecord),
	}
}

// Record 写入（覆盖）供应商的故障记录
func (l *FailureLedger) Record(rec FailureRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[rec.Provider] = rec
}

// Clear 供应商成功后移除其故障记录，返回是否存在过记录
func (l *FailureLedger) Clear(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.failures[provider]; !ok {
		return false
	}
	delete(l.failures, provider)
	return true
}

// Get 获取供应商的故障记录
func (l *FailureLedger) Get(provider string) (FailureRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.failures[provider]
	return rec, ok
}

// All 返回全部故障记录的副本
func (l *FailureLedger) All() map[string]FailureRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]FailureRecord, len(l.failures))
	for name, rec := range l.failures {
		out[name] = rec
	}
	return out
}

// Count 有故障记录的供应商数
func (l *FailureLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.failures)
}

// ==================== 故障分类 ====================

// Classify 判定错误的故障类型
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return OtherFailure
	case errors.Is(err, ErrValidation):
		return ValidationFailure
	case isTimeoutError(err):
		return TimeoutFailure
	default:
		return OtherFailure
	}
}

// Trace 展开错误链，每层一行
func Trace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}

// isTimeoutError 检查是否为超时错误
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, keyword := range []string{"timeout", "deadline exceeded", "timed out"} {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}
