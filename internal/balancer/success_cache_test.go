package balancer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newClockedCache 使用可控时钟的缓存
func newClockedCache(ttl time.Duration) (*SuccessCache, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewSuccessCache(&SuccessCacheConfig{TTL: ttl})
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestSuccessCache_RecordPrepends(t *testing.T) {
	cache, _ := newClockedCache(30 * time.Minute)

	cache.Record("Alpha", "gpt-4")
	cache.Record("Beta", "gpt-4o")

	entries := cache.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "Beta", entries[0].Provider)
	assert.Equal(t, "gpt-4o", entries[0].Model)
}

func TestSuccessCache_RecordDeduplicates(t *testing.T) {
	cache, _ := newClockedCache(30 * time.Minute)

	cache.Record("Alpha", "gpt-4")
	cache.Record("Beta", "gpt-4")
	cache.Record("Alpha", "gpt-4")

	entries := cache.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "Alpha", entries[0].Provider)
	assert.Equal(t, "Beta", entries[1].Provider)
}

func TestSuccessCache_SameProviderDifferentModels(t *testing.T) {
	cache, _ := newClockedCache(30 * time.Minute)

	cache.Record("Alpha", "gpt-4")
	cache.Record("Alpha", "gpt-4o")

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, []string{"Alpha"}, cache.Query(""), "provider names are deduplicated")
	assert.Equal(t, []string{"Alpha"}, cache.Query("gpt-4"))
}

func TestSuccessCache_QueryFiltersByModel(t *testing.T) {
	cache, _ := newClockedCache(30 * time.Minute)

	cache.Record("Alpha", "gpt-4")
	cache.Record("Beta", "gpt-4o")
	cache.Record("Gamma", "gpt-4")

	assert.Equal(t, []string{"Gamma", "Alpha"}, cache.Query("gpt-4"))
	assert.Equal(t, []string{"Beta"}, cache.Query("gpt-4o"))
	assert.Equal(t, []string{"Gamma", "Beta", "Alpha"}, cache.Query(""))
	assert.Empty(t, cache.Query("llama-3"))
}

func TestSuccessCache_ExpiredEntriesPurged(t *testing.T) {
	cache, now := newClockedCache(30 * time.Minute)

	cache.Record("Alpha", "gpt-4")
	*now = now.Add(20 * time.Minute)
	cache.Record("Beta", "gpt-4")

	*now = now.Add(15 * time.Minute) // Alpha 已过 35 分钟
	assert.Equal(t, []string{"Beta"}, cache.Query("gpt-4"))

	*now = now.Add(20 * time.Minute)
	assert.Equal(t, 0, cache.Len())
}

func TestSuccessCache_EntryAtExactTTLIsExpired(t *testing.T) {
	cache, now := newClockedCache(time.Minute)

	cache.Record("Alpha", "gpt-4")
	*now = now.Add(time.Minute)

	assert.Empty(t, cache.Entries())
}

func TestSuccessCache_Clear(t *testing.T) {
	cache, _ := newClockedCache(30 * time.Minute)
	cache.Record("Alpha", "gpt-4")

	cache.Clear()

	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, cache.Query(""))
}

func TestSuccessCache_SnapshotIsIndependent(t *testing.T) {
	cache, _ := newClockedCache(30 * time.Minute)
	cache.Record("Alpha", "gpt-4")

	snap := cache.Snapshot()
	cache.Record("Beta", "gpt-4")

	assert.Equal(t, []string{"Alpha"}, snap.Query("gpt-4"))
	assert.Equal(t, []string{"Beta", "Alpha"}, cache.Query("gpt-4"))
}

func TestSuccessCache_DefaultConfig(t *testing.T) {
	cache := NewSuccessCache(nil)
	assert.Equal(t, 30*time.Minute, cache.ttl)

	cache = NewSuccessCache(&SuccessCacheConfig{TTL: -1})
	assert.Equal(t, 30*time.Minute, cache.ttl)
}

func TestSuccessCache_ConcurrentRecord(t *testing.T) {
	cache := NewSuccessCache(nil)
	providers := []string{"Alpha", "Beta", "Gamma", "Delta"}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Record(providers[i%len(providers)], "gpt-4")
			_ = cache.Query("gpt-4")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, len(providers), cache.Len())
}
