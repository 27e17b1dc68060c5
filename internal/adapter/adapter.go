package adapter

import (
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Func 文本转换函数
type Func func(string) string

// Adapter 按供应商整理补全文本
// 先展开 OpenAI 风格的 JSON 响应，再应用供应商专属的转换
type Adapter struct {
	mu       sync.RWMutex
	adapters map[string]Func
}

// New 创建带内置转换的 Adapter
func New() *Adapter {
	return &Adapter{
		adapters: map[string]Func{
			"Ai4Chat": URLDecode,
		},
	}
}

// Register 注册或覆盖供应商的转换函数
func (a *Adapter) Register(providerName string, fn Func) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.adapters[providerName] = fn
}

// Adapt 整理供应商返回的原始文本
func (a *Adapter) Adapt(providerName, raw string) string {
	text := ExtractContent(raw)

	a.mu.RLock()
	fn, ok := a.adapters[providerName]
	a.mu.RUnlock()

	if !ok {
		return text
	}
	return fn(text)
}

// ExtractContent 取出 choices[0].message.content，结构不匹配时原样返回
func ExtractContent(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return raw
	}

	content := gjson.Get(trimmed, "choices.0.message.content")
	if !content.Exists() {
		return raw
	}
	return content.String()
}

// URLDecode URL 解码，不把 + 视为空格
func URLDecode(text string) string {
	decoded, err := url.PathUnescape(text)
	if err != nil {
		return text
	}
	return decoded
}
