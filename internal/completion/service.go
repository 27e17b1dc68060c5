package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	"github.com/Mieluoxxx/NoFail-API/internal/selfip"
	"github.com/Mieluoxxx/NoFail-API/internal/stats"
	"go.uber.org/zap"
)

// ==================== 接口定义 ====================

// IPSource 本机公网 IP
type IPSource interface {
	IP(ctx context.Context) string
}

// Recorder 补全结果统计
type Recorder interface {
	Record(o stats.Outcome)
}

// ==================== 配置 ====================

// Config 补全配置
type Config struct {
	ModelPriority   []string `yaml:"model_priority"`    // 为空时使用目录中的全部模型
	MaxAttempts     int      `yaml:"max_attempts"`      // 默认: 10
	LegacyModelSkip bool     `yaml:"legacy_model_skip"` // 每次重试按尝试序号跳过模型
}

// DefaultConfig 默认补全配置
func DefaultConfig() *Config {
	return &Config{
		ModelPriority: []string{"gpt-4o", "gpt-4", "gpt-4o-mini", "llama-3.1-70b", "mixtral-8x7b"},
		MaxAttempts:   10,
	}
}

// Result 补全结果
type Result struct {
	Text      string `json:"completion"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Attempts  int    `json:"attempts"`
	IPFlagged bool   `json:"ip_flagged,omitempty"`
}

// ==================== Service ====================

// Service 补全编排
type Service struct {
	registry *provider.Registry
	executor provider.Executor
	cache    *balancer.SuccessCache
	ledger   *balancer.FailureLedger
	ip       IPSource
	events   provider.EventLogger
	recorder Recorder
	logger   *zap.Logger
	config   Config
}

// Option 可选依赖
type Option func(*Service)

// WithIPSource 启用本机 IP 检测
func WithIPSource(ip IPSource) Option {
	return func(s *Service) { s.ip = ip }
}

// WithEventLogger 记录故障转移事件
func WithEventLogger(l provider.EventLogger) Option {
	return func(s *Service) { s.events = l }
}

// WithRecorder 记录补全统计
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 创建补全服务
func NewService(
	registry *provider.Registry,
	executor provider.Executor,
	cache *balancer.SuccessCache,
	ledger *balancer.FailureLedger,
	config *Config,
	opts ...Option,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}

	s := &Service{
		registry: registry,
		executor: executor,
		cache:    cache,
		ledger:   ledger,
		logger:   zap.NewNop(),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete 执行补全
//   - model 与 provider 都指定: 单次调用，客户端错误原样返回
//   - 仅指定 provider: 选取该供应商优先级最高的模型，单次调用
//   - 仅指定 model: 为该模型选取一个可用供应商，单次调用
//   - 都未指定: 故障转移模式
func (s *Service) Complete(ctx context.Context, messages []models.Message, model, providerName string) (*Result, error) {
	var (
		result *Result
		err    error
	)

	switch {
	case model != "" && providerName != "":
		result, err = s.completeExplicit(ctx, messages, model, providerName)
	case providerName != "":
		result, err = s.completeForProvider(ctx, messages, providerName)
	case model != "":
		result, err = s.completeForModel(ctx, messages, model)
	default:
		result, err = s.CompleteWithFallback(ctx, messages)
	}

	s.record(result, err)
	return result, err
}

// completeForProvider 仅指定供应商
func (s *Service) completeForProvider(ctx context.Context, messages []models.Message, providerName string) (*Result, error) {
	p, ok := s.registry.Provider(providerName)
	if !ok {
		return nil, NewProviderUnknownError(providerName)
	}

	supported := p.SupportedModels
	if len(supported) == 0 {
		supported = s.registry.KnownModels(providerName)
	}
	if len(supported) == 0 && p.DefaultModel != "" {
		supported = []string{p.DefaultModel}
	}

	model, ok := balancer.BestModelForProvider(s.priority(), supported)
	if !ok {
		return nil, &Error{
			Code:     CodeModelUnknown,
			Message:  "供应商 '" + providerName + "' 没有声明任何模型",
			Provider: providerName,
		}
	}

	return s.completeResolved(ctx, messages, model, providerName)
}

// completeForModel 仅指定模型
func (s *Service) completeForModel(ctx context.Context, messages []models.Message, model string) (*Result, error) {
	if _, err := s.registry.ResolveDefaultProvider(model); err != nil {
		return nil, NewModelUnknownError(model)
	}

	c, err := balancer.Select([]string{model}, s.registry.Snapshot(), s.cache.Snapshot(), balancer.NewExclusionSet(), 0)
	if err != nil {
		return nil, NewProviderUnavailableError(model)
	}

	return s.completeResolved(ctx, messages, c.Model, c.Provider)
}

// completeResolved 单次调用由服务选出的组合，客户端错误带上实际选出的模型与供应商
func (s *Service) completeResolved(ctx context.Context, messages []models.Message, model, providerName string) (*Result, error) {
	result, err := s.completeExplicit(ctx, messages, model, providerName)
	if err == nil {
		return result, nil
	}
	var cErr *Error
	if errors.As(err, &cErr) {
		return nil, err
	}
	return nil, NewProviderCallFailedError(model, providerName, err)
}

// completeExplicit 单次调用
func (s *Service) completeExplicit(ctx context.Context, messages []models.Message, model, providerName string) (*Result, error) {
	p, ok := s.registry.Provider(providerName)
	if !ok {
		return nil, NewProviderUnknownError(providerName)
	}

	logger := s.logger.With(zap.String("model", model), zap.String("provider", providerName))
	logger.Info("explicit completion attempt")

	text, err := s.executor.Execute(ctx, model, p, messages)
	if err != nil {
		logger.Warn("explicit completion failed", zap.Error(err))
		s.logEvent(models.EventTypeProviderError, models.EventLevelError,
			fmt.Sprintf("供应商 %s 调用失败", providerName),
			map[string]interface{}{"model": model, "provider": providerName, "error": err.Error()})
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		logger.Warn("explicit completion returned empty text")
		return nil, NewUnexpectedResponseShapeError(model, providerName)
	}

	s.cache.Record(providerName, model)
	return &Result{
		Text:      text,
		Model:     model,
		Provider:  providerName,
		Attempts:  1,
		IPFlagged: selfip.Contains(text, s.selfIP(ctx)),
	}, nil
}

// CompleteWithFallback 故障转移模式
// 失败的组合写入故障账本并加入排除集合后重新选择；
// 包含本机 IP 的响应只作为兜底，最终没有正常响应时才返回
func (s *Service) CompleteWithFallback(ctx context.Context, messages []models.Message) (*Result, error) {
	priority := s.priority()
	excluded := balancer.NewExclusionSet()

	candidate, err := s.SelectCandidate(priority, excluded, 0)
	if err != nil {
		s.logger.Warn("no failover candidate", zap.Strings("models", priority))
		return nil, NewNoCandidateFoundError("", "", 0, err)
	}

	ip := s.selfIP(ctx)
	var (
		lastResort *Result
		lastTried  balancer.Candidate
		cause      error
	)
	attempts := 0
	// 本次请求中失败过的供应商，成功时不清除它们在本次请求写入的记录
	failed := make(map[string]struct{})

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = ctxErr
			break
		}
		attempts++
		lastTried = candidate

		logger := s.logger.With(
			zap.String("model", candidate.Model),
			zap.String("provider", candidate.Provider),
			zap.Int("attempt", attempt+1),
		)
		logger.Info("failover attempt")

		text, callErr := s.execute(ctx, candidate, messages)
		switch {
		case callErr != nil:
			logger.Warn("failover attempt failed", zap.Error(callErr))
			s.ledger.Record(balancer.NewFailureRecord(candidate.Provider, candidate.Model, messages, callErr))
			failed[candidate.Provider] = struct{}{}
			s.logEvent(models.EventTypeFailover, models.EventLevelWarning,
				fmt.Sprintf("%s 调用失败，切换候选", candidate),
				map[string]interface{}{
					"model":    candidate.Model,
					"provider": candidate.Provider,
					"attempt":  attempt + 1,
					"error":    callErr.Error(),
				})

		case strings.TrimSpace(text) == "":
			logger.Warn("failover attempt returned empty text")

		case selfip.Contains(text, ip):
			logger.Warn("response contains own public ip, kept as last resort")
			if lastResort == nil {
				lastResort = &Result{
					Text:      text,
					Model:     candidate.Model,
					Provider:  candidate.Provider,
					IPFlagged: true,
				}
			}

		default:
			s.cache.Record(candidate.Provider, candidate.Model)
			if _, ok := failed[candidate.Provider]; !ok {
				s.ledger.Clear(candidate.Provider)
			}
			logger.Info("failover attempt succeeded")
			return &Result{
				Text:     text,
				Model:    candidate.Model,
				Provider: candidate.Provider,
				Attempts: attempts,
			}, nil
		}

		excluded.Add(candidate)
		next, selErr := s.SelectCandidate(priority, excluded, s.skipFor(attempt))
		if selErr != nil {
			logger.Info("failover candidates exhausted")
			break
		}
		candidate = next
	}

	// 取消时已拿到的兜底响应仍然返回
	if lastResort != nil {
		lastResort.Attempts = attempts
		s.cache.Record(lastResort.Provider, lastResort.Model)
		s.logEvent(models.EventTypeLastResort, models.EventLevelWarning,
			fmt.Sprintf("返回了包含本机 IP 的响应: %s@%s", lastResort.Model, lastResort.Provider),
			map[string]interface{}{"model": lastResort.Model, "provider": lastResort.Provider})
		return lastResort, nil
	}

	return nil, NewNoCandidateFoundError(lastTried.Model, lastTried.Provider, attempts, cause)
}

// SelectCandidate 基于当前注册表与成功缓存选择候选
func (s *Service) SelectCandidate(priority []string, excluded balancer.ExclusionSet, skip int) (balancer.Candidate, error) {
	return balancer.Select(priority, s.registry.Snapshot(), s.cache.Snapshot(), excluded, skip)
}

// execute 调用供应商；目录中不存在的供应商按调用失败处理
func (s *Service) execute(ctx context.Context, c balancer.Candidate, messages []models.Message) (string, error) {
	p, ok := s.registry.Provider(c.Provider)
	if !ok {
		return "", fmt.Errorf("provider %q: %w", c.Provider, provider.ErrProviderNotFound)
	}
	return s.executor.Execute(ctx, c.Model, p, messages)
}

// skipFor 重新选择时的跳过数
// 默认依靠排除集合推进；LegacyModelSkip 时按尝试序号跳过模型
func (s *Service) skipFor(attempt int) int {
	if s.config.LegacyModelSkip {
		return attempt
	}
	return 0
}

func (s *Service) priority() []string {
	if len(s.config.ModelPriority) > 0 {
		return s.config.ModelPriority
	}
	return s.registry.AllModelNames()
}

func (s *Service) selfIP(ctx context.Context) string {
	if s.ip == nil {
		return ""
	}
	return s.ip.IP(ctx)
}

func (s *Service) logEvent(eventType, level, message string, metadata map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.LogEvent(eventType, message, level, metadata); err != nil {
		s.logger.Warn("log event failed", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *Service) record(result *Result, err error) {
	if s.recorder == nil {
		return
	}

	o := stats.Outcome{Succeeded: err == nil && result != nil}
	var cErr *Error
	switch {
	case result != nil:
		o.Attempts = result.Attempts
		o.LastResort = result.IPFlagged
	case errors.As(err, &cErr):
		o.Attempts = cErr.Attempts
	default:
		// 显式模式下的客户端错误
		o.Attempts = 1
	}
	s.recorder.Record(o)
}
