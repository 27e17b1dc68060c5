package provider

import (
	"errors"
	"sort"
	"sync"
)

// ErrModelNotFound 模型不在目录中或无法解析默认供应商
var ErrModelNotFound = errors.New("model not found")

// catalog 不可变的基础目录
type catalog struct {
	providers []*Descriptor          // 目录顺序
	byName    map[string]*Descriptor // 名称索引
	defaults  map[string]string      // 模型 -> 配置的默认供应商
	models    []string               // 全部模型，首次出现顺序
}

func newCatalog(providers []*Descriptor, defaults map[string]string) *catalog {
	c := &catalog{
		byName:   make(map[string]*Descriptor, len(providers)),
		defaults: make(map[string]string, len(defaults)),
	}

	seen := make(map[string]struct{})
	addModel := func(m string) {
		if m == "" {
			return
		}
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		c.models = append(c.models, m)
	}

	for _, p := range providers {
		if p == nil || p.Name == "" {
			continue
		}
		if _, dup := c.byName[p.Name]; dup {
			continue
		}
		c.providers = append(c.providers, p)
		c.byName[p.Name] = p
		for _, m := range p.SupportedModels {
			addModel(m)
		}
		addModel(p.DefaultModel)
	}

	names := make([]string, 0, len(defaults))
	for model, provider := range defaults {
		if _, ok := c.byName[provider]; !ok {
			continue
		}
		c.defaults[model] = provider
		names = append(names, model)
	}
	// 仅在 defaults 中出现的模型排在最后
	sort.Strings(names)
	for _, model := range names {
		addModel(model)
	}

	return c
}

func (c *catalog) resolveDefault(model string) (string, error) {
	if p, ok := c.defaults[model]; ok {
		return p, nil
	}
	for _, p := range c.providers {
		if p.Declares(model) {
			return p.Name, nil
		}
	}
	return "", ErrModelNotFound
}

func (c *catalog) supports(provider, model string) bool {
	d, ok := c.byName[provider]
	if !ok {
		return false
	}
	if d.Declares(model) {
		return true
	}
	return c.defaults[model] == provider
}

// modelsOf 供应商支持的全部目录模型，目录顺序
func (c *catalog) modelsOf(provider string) []string {
	var out []string
	for _, m := range c.models {
		if c.supports(provider, m) {
			out = append(out, m)
		}
	}
	return out
}

// ==================== Registry ====================

// Registry 供应商注册表
// 基础目录在构建后不变；可用集合由探测周期整体替换
type Registry struct {
	mu      sync.RWMutex
	cat     *catalog
	working map[string]struct{}
}

// NewRegistry 创建注册表，初始可用集合为整个目录
// defaults 为模型到默认供应商的配置，未知供应商会被忽略
func NewRegistry(providers []*Descriptor, defaults map[string]string) *Registry {
	cat := newCatalog(providers, defaults)
	working := make(map[string]struct{}, len(cat.providers))
	for _, p := range cat.providers {
		working[p.Name] = struct{}{}
	}
	return &Registry{cat: cat, working: working}
}

// ListProviders 基础目录，目录顺序
func (r *Registry) ListProviders() []*Descriptor {
	out := make([]*Descriptor, len(r.cat.providers))
	copy(out, r.cat.providers)
	return out
}

// Provider 按名称查找供应商
func (r *Registry) Provider(name string) (*Descriptor, bool) {
	d, ok := r.cat.byName[name]
	return d, ok
}

// ResolveDefaultProvider 模型的默认供应商
// 未配置时取目录中第一个声明该模型的供应商
func (r *Registry) ResolveDefaultProvider(model string) (string, error) {
	return r.cat.resolveDefault(model)
}

// Supports 供应商是否支持该模型
func (r *Registry) Supports(provider, model string) bool {
	return r.cat.supports(provider, model)
}

// AllModelNames 目录中的全部模型
func (r *Registry) AllModelNames() []string {
	out := make([]string, len(r.cat.models))
	copy(out, r.cat.models)
	return out
}

// IsWorking 供应商是否在可用集合中
func (r *Registry) IsWorking(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.working[name]
	return ok
}

// WorkingSet 可用集合，目录顺序
func (r *Registry) WorkingSet() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.workingListLocked()
}

func (r *Registry) workingListLocked() []string {
	out := make([]string, 0, len(r.working))
	for _, p := range r.cat.providers {
		if _, ok := r.working[p.Name]; ok {
			out = append(out, p.Name)
		}
	}
	return out
}

// ReplaceWorkingSet 整体替换可用集合，未知名称被忽略
func (r *Registry) ReplaceWorkingSet(names []string) {
	working := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := r.cat.byName[name]; ok {
			working[name] = struct{}{}
		}
	}

	r.mu.Lock()
	r.working = working
	r.mu.Unlock()
}

// WorkingProviders 可用供应商
func (r *Registry) WorkingProviders() map[string]*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Descriptor, len(r.working))
	for name := range r.working {
		out[name] = r.cat.byName[name]
	}
	return out
}

// Models 模型到可用供应商的映射
func (r *Registry) Models() map[string][]string {
	return r.Snapshot().Models()
}

// KnownModels 上一次可用视图中该供应商对应的模型
// 供应商当前不可用时返回空
func (r *Registry) KnownModels(name string) []string {
	if !r.IsWorking(name) {
		return nil
	}
	return r.cat.modelsOf(name)
}

// Snapshot 当前目录与可用集合的一致视图
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	working := r.workingListLocked()
	set := make(map[string]struct{}, len(working))
	for _, name := range working {
		set[name] = struct{}{}
	}
	return &Snapshot{cat: r.cat, working: working, set: set}
}

// ==================== Snapshot ====================

// Snapshot 不可变视图，实现 balancer.Catalog
type Snapshot struct {
	cat     *catalog
	working []string
	set     map[string]struct{}
}

// ResolveDefaultProvider 同 Registry.ResolveDefaultProvider
func (s *Snapshot) ResolveDefaultProvider(model string) (string, error) {
	return s.cat.resolveDefault(model)
}

// IsWorking 同 Registry.IsWorking
func (s *Snapshot) IsWorking(name string) bool {
	_, ok := s.set[name]
	return ok
}

// Supports 同 Registry.Supports
func (s *Snapshot) Supports(provider, model string) bool {
	return s.cat.supports(provider, model)
}

// WorkingSet 同 Registry.WorkingSet
func (s *Snapshot) WorkingSet() []string {
	out := make([]string, len(s.working))
	copy(out, s.working)
	return out
}

// Models 模型到可用供应商的映射
func (s *Snapshot) Models() map[string][]string {
	out := make(map[string][]string)
	for _, model := range s.cat.models {
		for _, name := range s.working {
			if s.cat.supports(name, model) {
				out[model] = append(out[model], name)
			}
		}
	}
	return out
}
