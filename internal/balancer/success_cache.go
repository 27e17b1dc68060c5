package balancer

import (
	"sync"
	"time"
)

// SuccessEntry 一次成功的 (供应商, 模型) 记录
type SuccessEntry struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// SuccessCacheConfig 成功缓存配置
type SuccessCacheConfig struct {
	TTL time.Duration `yaml:"ttl"` // 默认: 30分钟
}

// DefaultSuccessCacheConfig 默认成功缓存配置
func DefaultSuccessCacheConfig() *SuccessCacheConfig {
	return &SuccessCacheConfig{
		TTL: 30 * time.Minute,
	}
}

// SuccessCache 最近成功组合的有序缓存
// 每个组合至多一条记录，最近的在前；过期记录在每次读写时惰性清除
type SuccessCache struct {
	mu      sync.Mutex
	entries []SuccessEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewSuccessCache 创建成功缓存
func NewSuccessCache(config *SuccessCacheConfig) *SuccessCache {
	if config == nil {
		config = DefaultSuccessCacheConfig()
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}

	return &SuccessCache{
		ttl: config.TTL,
		now: time.Now,
	}
}

// Record 记录成功组合：先删除旧记录，再插入到最前
func (c *SuccessCache) Record(provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked()

	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.Provider == provider && e.Model == model {
			continue
		}
		kept = append(kept, e)
	}

	c.entries = append([]SuccessEntry{{
		Provider:  provider,
		Model:     model,
		Timestamp: c.now(),
	}}, kept...)
}

// Query 返回去重后的供应商名，最近的在前；model 为空时不过滤
func (c *SuccessCache) Query(model string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked()

	return queryEntries(c.entries, model)
}

// Entries 返回当前全部记录的副本
func (c *SuccessCache) Entries() []SuccessEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked()

	out := make([]SuccessEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Snapshot 返回当前记录的只读视图，供一次选择使用
func (c *SuccessCache) Snapshot() RecentSuccesses {
	return RecentSuccesses(c.Entries())
}

// Clear 清空缓存
func (c *SuccessCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
}

// Len 当前有效记录数
func (c *SuccessCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked()
	return len(c.entries)
}

// purgeLocked 删除过期记录，调用方需持有锁
func (c *SuccessCache) purgeLocked() {
	if len(c.entries) == 0 {
		return
	}

	cutoff := c.now().Add(-c.ttl)
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	// 释放尾部引用
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = SuccessEntry{}
	}
	c.entries = kept
}

// RecentSuccesses 成功记录的不可变快照
type RecentSuccesses []SuccessEntry

// Query 与 SuccessCache.Query 语义相同，但不做过期清理
func (r RecentSuccesses) Query(model string) []string {
	return queryEntries(r, model)
}

func queryEntries(entries []SuccessEntry, model string) []string {
	seen := make(map[string]struct{}, len(entries))
	providers := make([]string, 0, len(entries))
	for _, e := range entries {
		if model != "" && e.Model != model {
			continue
		}
		if _, ok := seen[e.Provider]; ok {
			continue
		}
		seen[e.Provider] = struct{}{}
		providers = append(providers, e.Provider)
	}
	return providers
}
