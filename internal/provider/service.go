package provider

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidCatalog 目录文件无效
	ErrInvalidCatalog = errors.New("invalid provider catalog")
	// ErrInvalidURL 无效 URL
	ErrInvalidURL = errors.New("invalid URL")
)

// KeySealer 供应商 API Key 的加解密
type KeySealer interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// Service 供应商目录业务逻辑层
type Service struct {
	repo     *Repository
	validate *validator.Validate
	sealer   KeySealer
	logger   *zap.Logger
}

// ServiceOption 可选依赖
type ServiceOption func(*Service)

// WithKeySealer 数据库中的 API Key 加密存储
func WithKeySealer(sealer KeySealer) ServiceOption {
	return func(s *Service) { s.sealer = sealer }
}

// NewService 创建 Service 实例
func NewService(repo *Repository, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadCatalogFile 读取 YAML 目录文件
// api_key 中的 ${VAR} 会按环境变量展开
func LoadCatalogFile(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	for i := range file.Providers {
		file.Providers[i].APIKey = os.ExpandEnv(file.Providers[i].APIKey)
	}
	return &file, nil
}

// Seed 将目录写入数据库，已存在的供应商按名称更新
// 目录文件是唯一来源：文件中已移除的供应商被禁用，模型默认供应商条目被删除
func (s *Service) Seed(file *CatalogFile) (*SeedResult, error) {
	if err := s.validateCatalog(file); err != nil {
		return nil, err
	}

	rows := make([]*models.Provider, 0, len(file.Providers))
	for i, entry := range file.Providers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}

		apiKey, err := s.sealKey(entry.APIKey)
		if err != nil {
			return nil, fmt.Errorf("seal api key of %s: %w", entry.Name, err)
		}

		p := &models.Provider{
			Name:         entry.Name,
			BaseURL:      entry.BaseURL,
			APIKey:       apiKey,
			DefaultModel: entry.DefaultModel,
			Position:     i,
			Enabled:      enabled,
		}
		for _, name := range entry.Models {
			p.Models = append(p.Models, models.ProviderModel{Name: name})
		}
		rows = append(rows, p)
	}

	entries := make([]*models.CatalogModel, 0, len(file.Models))
	for _, entry := range file.Models {
		entries = append(entries, &models.CatalogModel{Name: entry.Name, DefaultProvider: entry.DefaultProvider})
	}

	disabled, err := s.repo.SyncCatalog(rows, entries)
	if err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	result := &SeedResult{
		Providers: len(rows),
		Models:    len(entries),
		Disabled:  int(disabled),
	}

	s.logger.Info("provider catalog seeded",
		zap.Int("providers", result.Providers),
		zap.Int("models", result.Models),
		zap.Int("disabled", result.Disabled),
	)
	return result, nil
}

// LoadRegistry 从数据库中已启用的供应商构建注册表
func (s *Service) LoadRegistry() (*Registry, error) {
	rows, err := s.repo.FindEnabled()
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.FindCatalogModels()
	if err != nil {
		return nil, err
	}

	descriptors := make([]*Descriptor, 0, len(rows))
	for _, row := range rows {
		d := NewDescriptor(row)
		if d.APIKey, err = s.openKey(d.APIKey); err != nil {
			return nil, fmt.Errorf("open api key of %s: %w", d.Name, err)
		}
		descriptors = append(descriptors, d)
	}
	defaults := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.DefaultProvider != "" {
			defaults[e.Name] = e.DefaultProvider
		}
	}

	return NewRegistry(descriptors, defaults), nil
}

func (s *Service) sealKey(key string) (string, error) {
	if s.sealer == nil {
		return key, nil
	}
	return s.sealer.Seal(key)
}

func (s *Service) openKey(key string) (string, error) {
	if s.sealer == nil {
		return key, nil
	}
	return s.sealer.Open(key)
}

// UpdateHealthStatus 持久化探测结果
func (s *Service) UpdateHealthStatus(name string, healthy bool, checkedAt time.Time) error {
	status := models.HealthStatusUnhealthy
	if healthy {
		status = models.HealthStatusHealthy
	}
	return s.repo.UpdateHealthStatus(name, status, checkedAt)
}

// HealthSummary 各健康状态的供应商数量
func (s *Service) HealthSummary() (map[string]int64, error) {
	return s.repo.CountByHealthStatus()
}

// validateCatalog 验证目录内容
func (s *Service) validateCatalog(file *CatalogFile) error {
	if file == nil {
		return fmt.Errorf("%w: empty catalog", ErrInvalidCatalog)
	}
	if err := s.validate.Struct(file); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	names := make(map[string]struct{}, len(file.Providers))
	for _, entry := range file.Providers {
		if _, dup := names[entry.Name]; dup {
			return fmt.Errorf("%w: duplicate provider %q", ErrInvalidCatalog, entry.Name)
		}
		names[entry.Name] = struct{}{}

		if err := validateURL(entry.BaseURL); err != nil {
			return fmt.Errorf("provider %s: %w", entry.Name, err)
		}
	}

	for _, entry := range file.Models {
		if entry.DefaultProvider == "" {
			continue
		}
		if _, ok := names[entry.DefaultProvider]; !ok {
			return fmt.Errorf("%w: model %q references unknown provider %q",
				ErrInvalidCatalog, entry.Name, entry.DefaultProvider)
		}
	}
	return nil
}

// validateURL 验证 URL 格式
func validateURL(urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	// 必须是 HTTP 或 HTTPS
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: URL must be http or https", ErrInvalidURL)
	}

	// 必须有 host
	if parsedURL.Host == "" {
		return fmt.Errorf("%w: URL must have a host", ErrInvalidURL)
	}

	// URL 不应以 / 结尾
	if strings.HasSuffix(urlStr, "/") {
		return fmt.Errorf("%w: base_url should not end with /", ErrInvalidURL)
	}

	// /v1 由客户端追加
	if strings.Contains(parsedURL.Path, "/v1") {
		return fmt.Errorf("%w: base_url should not contain /v1", ErrInvalidURL)
	}

	return nil
}
