package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome 一次补全请求的结果
type Outcome struct {
	Succeeded  bool
	Attempts   int
	LastResort bool // 返回的是带本机 IP 的兜底响应
}

// CompletionCounter 补全请求计数器
// 使用内存计数器 + 时间窗口滑动统计实现，窗口在读写时惰性滚动
type CompletionCounter struct {
	total      int64
	succeeded  int64
	failed     int64
	attempts   int64
	lastResort int64

	// 时间窗口统计（用于 QPS 计算）
	windowMutex    sync.Mutex
	currentWindow  *timeWindow
	previousWindow *timeWindow
	windowDuration time.Duration
	now            func() time.Time
}

// timeWindow 时间窗口
type timeWindow struct {
	count     int64
	startTime time.Time
}

// NewCompletionCounter 创建计数器
func NewCompletionCounter(windowDuration time.Duration) *CompletionCounter {
	if windowDuration <= 0 {
		windowDuration = 60 * time.Second // 默认 60 秒窗口
	}

	c := &CompletionCounter{
		windowDuration: windowDuration,
		now:            time.Now,
	}
	c.resetWindows(c.now())
	return c
}

func (c *CompletionCounter) resetWindows(now time.Time) {
	c.currentWindow = &timeWindow{startTime: now}
	c.previousWindow = &timeWindow{startTime: now.Add(-c.windowDuration)}
}

// Record 记录一次补全请求
func (c *CompletionCounter) Record(o Outcome) {
	atomic.AddInt64(&c.total, 1)
	atomic.AddInt64(&c.attempts, int64(o.Attempts))
	if o.Succeeded {
		atomic.AddInt64(&c.succeeded, 1)
	} else {
		atomic.AddInt64(&c.failed, 1)
	}
	if o.LastResort {
		atomic.AddInt64(&c.lastResort, 1)
	}

	c.windowMutex.Lock()
	c.rotateLocked(c.now())
	c.currentWindow.count++
	c.windowMutex.Unlock()
}

// rotateLocked 滚动时间窗口，调用方需持有锁
func (c *CompletionCounter) rotateLocked(now time.Time) {
	elapsed := now.Sub(c.currentWindow.startTime)
	switch {
	case elapsed < c.windowDuration:
	case elapsed < 2*c.windowDuration:
		// 将当前窗口变为前一个窗口
		c.previousWindow = c.currentWindow
		c.currentWindow = &timeWindow{startTime: c.currentWindow.startTime.Add(c.windowDuration)}
	default:
		// 空闲超过两个窗口，历史数据已无意义
		c.resetWindows(now)
	}
}

// GetQPS 获取当前 QPS（每秒请求数）
// 基于滑动时间窗口计算
func (c *CompletionCounter) GetQPS() float64 {
	c.windowMutex.Lock()
	defer c.windowMutex.Unlock()

	now := c.now()
	c.rotateLocked(now)

	window := c.windowDuration.Seconds()
	currentElapsed := now.Sub(c.currentWindow.startTime).Seconds()

	var currentQPS float64
	if currentElapsed > 0 {
		currentQPS = float64(c.currentWindow.count) / currentElapsed
	}
	prevWeight := (window - currentElapsed) / window
	if prevWeight < 0 {
		prevWeight = 0
	}
	prevQPS := float64(c.previousWindow.count) / window

	// 加权平均
	return currentQPS*(1-prevWeight) + prevQPS*prevWeight
}

// GetStats 获取统计信息
func (c *CompletionCounter) GetStats() CompletionStats {
	s := CompletionStats{
		Total:      atomic.LoadInt64(&c.total),
		Succeeded:  atomic.LoadInt64(&c.succeeded),
		Failed:     atomic.LoadInt64(&c.failed),
		Attempts:   atomic.LoadInt64(&c.attempts),
		LastResort: atomic.LoadInt64(&c.lastResort),
		CurrentQPS: c.GetQPS(),
	}
	if s.Total > 0 {
		s.AvgAttempts = float64(s.Attempts) / float64(s.Total)
	}
	return s
}

// CompletionStats 补全统计信息
type CompletionStats struct {
	Total       int64   `json:"total"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	Attempts    int64   `json:"attempts"`
	LastResort  int64   `json:"last_resort"`
	AvgAttempts float64 `json:"avg_attempts"`
	CurrentQPS  float64 `json:"current_qps"`
}
