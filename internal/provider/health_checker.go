package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"go.uber.org/zap"
)

// ==================== 接口定义 ====================

// Executor 向供应商发起一次对话补全
type Executor interface {
	Execute(ctx context.Context, model string, p *Descriptor, messages []models.Message) (string, error)
}

// StatusRecorder 持久化单个供应商的探测结果
type StatusRecorder interface {
	UpdateHealthStatus(name string, healthy bool, checkedAt time.Time) error
}

// EventLogger 系统事件记录
type EventLogger interface {
	LogEvent(eventType, message, level string, metadata map[string]interface{}) error
}

// ==================== 配置 ====================

// HealthCheckerConfig 探测配置
type HealthCheckerConfig struct {
	Parallelism   int           `yaml:"parallelism"`    // 默认: 8
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`  // 默认: 5秒
	CycleTimeout  time.Duration `yaml:"cycle_timeout"`  // 默认: 5分钟
	Prompt        string        `yaml:"prompt"`         // 探测消息
	FallbackModel string        `yaml:"fallback_model"` // 默认: gpt-4
}

// DefaultHealthCheckerConfig 默认探测配置
func DefaultHealthCheckerConfig() *HealthCheckerConfig {
	return &HealthCheckerConfig{
		Parallelism:   8,
		ProbeTimeout:  5 * time.Second,
		CycleTimeout:  5 * time.Minute,
		Prompt:        "hi, how are you?",
		FallbackModel: "gpt-4",
	}
}

// withDefaults 补齐零值字段
func (c HealthCheckerConfig) withDefaults() HealthCheckerConfig {
	d := DefaultHealthCheckerConfig()
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = d.CycleTimeout
	}
	if c.Prompt == "" {
		c.Prompt = d.Prompt
	}
	if c.FallbackModel == "" {
		c.FallbackModel = d.FallbackModel
	}
	return c
}

// ==================== 结果类型 ====================

// HealthCheckResult 单个供应商的探测结果
type HealthCheckResult struct {
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Healthy        bool      `json:"healthy"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`

	err error
}

// CycleReport 一次探测周期的汇总
type CycleReport struct {
	Started  time.Time           `json:"started"`
	Finished time.Time           `json:"finished"`
	Working  []string            `json:"working"`
	Failed   []string            `json:"failed"`
	TimedOut bool                `json:"timed_out"`
	Results  []HealthCheckResult `json:"results"`
}

// ==================== HealthChecker ====================

// HealthChecker 供应商探测器
// 同一时刻至多运行一个探测周期，重复触发直接返回
type HealthChecker struct {
	registry *Registry
	executor Executor
	ledger   *balancer.FailureLedger
	cache    *balancer.SuccessCache
	status   StatusRecorder
	events   EventLogger
	logger   *zap.Logger
	config   HealthCheckerConfig
	running  sync.Mutex
}

// HealthCheckerOption 可选依赖
type HealthCheckerOption func(*HealthChecker)

// WithStatusRecorder 周期结束时持久化各供应商状态
func WithStatusRecorder(r StatusRecorder) HealthCheckerOption {
	return func(hc *HealthChecker) { hc.status = r }
}

// WithEventLogger 周期结束时记录系统事件
func WithEventLogger(l EventLogger) HealthCheckerOption {
	return func(hc *HealthChecker) { hc.events = l }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) HealthCheckerOption {
	return func(hc *HealthChecker) {
		if l != nil {
			hc.logger = l
		}
	}
}

// NewHealthChecker 创建探测器
func NewHealthChecker(
	registry *Registry,
	executor Executor,
	ledger *balancer.FailureLedger,
	cache *balancer.SuccessCache,
	config *HealthCheckerConfig,
	opts ...HealthCheckerOption,
) *HealthChecker {
	if config == nil {
		config = DefaultHealthCheckerConfig()
	}

	hc := &HealthChecker{
		registry: registry,
		executor: executor,
		ledger:   ledger,
		cache:    cache,
		logger:   zap.NewNop(),
		config:   config.withDefaults(),
	}
	for _, opt := range opts {
		opt(hc)
	}
	return hc
}

// Run 同步执行一次探测周期
// 已有周期在运行时立即返回 false
func (hc *HealthChecker) Run(ctx context.Context) (CycleReport, bool) {
	if !hc.running.TryLock() {
		hc.logger.Debug("probe cycle already running, trigger declined")
		return CycleReport{}, false
	}
	defer hc.running.Unlock()

	return hc.runCycle(ctx), true
}

// TryStart 在后台启动一次探测周期
// 已有周期在运行时立即返回 false
func (hc *HealthChecker) TryStart(ctx context.Context) bool {
	if !hc.running.TryLock() {
		hc.logger.Debug("probe cycle already running, trigger declined")
		return false
	}

	go func() {
		defer hc.running.Unlock()
		hc.runCycle(context.WithoutCancel(ctx))
	}()
	return true
}

// ProbeAll 逐个探测全部供应商
// 不修改可用集合、成功缓存和故障账本
func (hc *HealthChecker) ProbeAll(ctx context.Context) []HealthCheckResult {
	providers := hc.registry.ListProviders()
	results := make([]HealthCheckResult, 0, len(providers))
	for _, p := range providers {
		if ctx.Err() != nil {
			break
		}
		results = append(results, hc.probe(ctx, p))
	}
	return results
}

// runCycle 有界并发探测，周期超时后只使用已完成的结果
func (hc *HealthChecker) runCycle(ctx context.Context) CycleReport {
	report := CycleReport{Started: time.Now()}
	providers := hc.registry.ListProviders()

	cycleCtx, cancel := context.WithTimeout(ctx, hc.config.CycleTimeout)
	defer cancel()

	collector := &resultCollector{byName: make(map[string]HealthCheckResult, len(providers))}
	sem := make(chan struct{}, hc.config.Parallelism)
	var wg sync.WaitGroup

	for _, p := range providers {
		wg.Add(1)
		go func(p *Descriptor) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-cycleCtx.Done():
				return
			}
			defer func() { <-sem }()

			result := hc.probe(cycleCtx, p)
			if cycleCtx.Err() != nil {
				return
			}
			collector.add(result)
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-cycleCtx.Done():
		report.TimedOut = true
	}
	results := collector.close()

	messages := hc.probeMessages()
	for _, p := range providers {
		r, ok := results[p.Name]
		if !ok {
			continue
		}
		report.Results = append(report.Results, r)

		if r.Healthy {
			report.Working = append(report.Working, p.Name)
			hc.ledger.Clear(p.Name)
		} else {
			report.Failed = append(report.Failed, p.Name)
			hc.ledger.Record(balancer.NewFailureRecord(p.Name, r.Model, messages, r.err))
		}

		if hc.status != nil {
			if err := hc.status.UpdateHealthStatus(p.Name, r.Healthy, r.CheckedAt); err != nil {
				hc.logger.Warn("persist health status failed", zap.String("provider", p.Name), zap.Error(err))
			}
		}
	}

	hc.registry.ReplaceWorkingSet(report.Working)
	hc.cache.Clear()
	report.Finished = time.Now()

	hc.logger.Info("probe cycle finished",
		zap.Int("providers", len(providers)),
		zap.Int("working", len(report.Working)),
		zap.Int("failed", len(report.Failed)),
		zap.Bool("timed_out", report.TimedOut),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	hc.logCycleEvent(report, len(providers))

	return report
}

func (hc *HealthChecker) logCycleEvent(report CycleReport, total int) {
	if hc.events == nil {
		return
	}

	level := models.EventLevelInfo
	if len(report.Working) == 0 {
		level = models.EventLevelWarning
	}
	err := hc.events.LogEvent(models.EventTypeHealthCheck,
		fmt.Sprintf("探测完成: %d/%d 个供应商可用", len(report.Working), total),
		level,
		map[string]interface{}{
			"working":   report.Working,
			"failed":    report.Failed,
			"timed_out": report.TimedOut,
		},
	)
	if err != nil {
		hc.logger.Warn("log health check event failed", zap.Error(err))
	}
}

// probe 探测单个供应商，超时后放弃等待底层调用
func (hc *HealthChecker) probe(ctx context.Context, p *Descriptor) HealthCheckResult {
	model := hc.ProbeModel(p)
	start := time.Now()
	result := HealthCheckResult{
		Provider:  p.Name,
		Model:     model,
		CheckedAt: start,
	}

	probeCtx, cancel := context.WithTimeout(ctx, hc.config.ProbeTimeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("probe panicked: %v", rec)}
			}
		}()
		text, err := hc.executor.Execute(probeCtx, model, p, hc.probeMessages())
		ch <- outcome{text: text, err: err}
	}()

	var text string
	var err error
	select {
	case o := <-ch:
		text, err = o.text, o.err
	case <-probeCtx.Done():
		err = fmt.Errorf("probe timed out after %s: %w", hc.config.ProbeTimeout, context.DeadlineExceeded)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty probe response: %w", balancer.ErrValidation)
	}

	result.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		result.err = err
		hc.logger.Debug("probe failed",
			zap.String("provider", p.Name),
			zap.String("model", model),
			zap.Error(err),
		)
		return result
	}

	result.Healthy = true
	hc.logger.Debug("probe passed",
		zap.String("provider", p.Name),
		zap.String("model", model),
		zap.Int64("response_time_ms", result.ResponseTimeMs),
	)
	return result
}

// ProbeModel 探测使用的模型
// 依次取: 声明的第一个模型、默认模型、上一次可用视图中的模型、兜底模型
func (hc *HealthChecker) ProbeModel(p *Descriptor) string {
	if len(p.SupportedModels) > 0 {
		return p.SupportedModels[0]
	}
	if p.DefaultModel != "" {
		return p.DefaultModel
	}
	if known := hc.registry.KnownModels(p.Name); len(known) > 0 {
		return known[0]
	}
	return hc.config.FallbackModel
}

func (hc *HealthChecker) probeMessages() []models.Message {
	return []models.Message{{Role: "user", Content: hc.config.Prompt}}
}

// resultCollector 并发安全的结果收集器，关闭后丢弃迟到的结果
type resultCollector struct {
	mu     sync.Mutex
	byName map[string]HealthCheckResult
	closed bool
}

func (c *resultCollector) add(r HealthCheckResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.byName[r.Provider] = r
}

func (c *resultCollector) close() map[string]HealthCheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.byName
}
