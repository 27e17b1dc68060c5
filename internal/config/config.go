package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path            string        `yaml:"path" validate:"required"`           // 数据库文件路径
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=1"`    // 最大连接数
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"min=0"` // 连接最大生命周期
	AutoMigrate     bool          `yaml:"auto_migrate"`                       // 是否自动迁移
	LogLevel        string        `yaml:"log_level" validate:"oneof=silent error warn info"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port          int           `yaml:"port" validate:"min=1,max=65535"`
	LogLevel      string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string        `yaml:"log_format" validate:"oneof=json console"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	ClientTimeout time.Duration `yaml:"client_timeout" validate:"gt=0"` // 单次供应商调用超时
}

// RouterConfig 故障转移配置
type RouterConfig struct {
	ModelPriority   []string      `yaml:"model_priority"`
	MaxAttempts     int           `yaml:"max_attempts" validate:"min=1,max=100"`
	SuccessTTL      time.Duration `yaml:"success_ttl" validate:"gt=0"`
	LegacyModelSkip bool          `yaml:"legacy_model_skip"`
	StatsWindow     time.Duration `yaml:"stats_window" validate:"gt=0"`
}

// ProberConfig 探测配置
type ProberConfig struct {
	Parallelism   int           `yaml:"parallelism" validate:"min=1,max=64"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" validate:"gt=0"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout" validate:"gt=0"`
	Schedule      string        `yaml:"schedule"` // cron 表达式，为空时不定时探测
	Prompt        string        `yaml:"prompt" validate:"required"`
	FallbackModel string        `yaml:"fallback_model" validate:"required"`
	RunOnStart    bool          `yaml:"run_on_start"`
}

// SelfIPConfig 本机 IP 配置
type SelfIPConfig struct {
	Static     string        `yaml:"static" validate:"omitempty,ip"`
	LookupURL  string        `yaml:"lookup_url" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	RetryAfter time.Duration `yaml:"retry_after" validate:"gt=0"` // 查询失败后的冷却时间
}

// EventsConfig 系统事件配置
type EventsConfig struct {
	Retention     time.Duration `yaml:"retention" validate:"gt=0"` // 事件保留时长
	PruneSchedule string        `yaml:"prune_schedule"`            // 清理任务 cron 表达式，为空时不清理
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" validate:"omitempty,base64"` // 非空时 API Key 加密存储
}

// Config 应用配置
type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Router      RouterConfig   `yaml:"router"`
	Prober      ProberConfig   `yaml:"prober"`
	SelfIP      SelfIPConfig   `yaml:"self_ip"`
	Events      EventsConfig   `yaml:"events"`
	Security    SecurityConfig `yaml:"security"`
	CatalogPath string         `yaml:"catalog_path"` // 供应商目录 YAML
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			LogLevel:      "info",
			LogFormat:     "json",
			CORSOrigins:   []string{"*"},
			ClientTimeout: 2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:            "./data/nofail.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			AutoMigrate:     true,
			LogLevel:        "warn",
		},
		Router: RouterConfig{
			ModelPriority: []string{"gpt-4o", "gpt-4", "gpt-4o-mini", "llama-3.1-70b", "mixtral-8x7b"},
			MaxAttempts:   10,
			SuccessTTL:    30 * time.Minute,
			StatsWindow:   60 * time.Second,
		},
		Prober: ProberConfig{
			Parallelism:   8,
			ProbeTimeout:  5 * time.Second,
			CycleTimeout:  5 * time.Minute,
			Schedule:      "@every 1h",
			Prompt:        "hi, how are you?",
			FallbackModel: "gpt-4",
			RunOnStart:    true,
		},
		SelfIP: SelfIPConfig{
			LookupURL:  "https://api.ipify.org?format=json",
			Timeout:    5 * time.Second,
			RetryAfter: 30 * time.Second,
		},
		Events: EventsConfig{
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		CatalogPath: "./configs/providers.yaml",
	}
}

// LoadConfig 加载配置
// 顺序: 默认值 → YAML 文件（可选）→ .env → 环境变量 → 校验
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	// .env 不存在时忽略
	_ = godotenv.Load(".env")
	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv 支持环境变量覆盖
func applyEnv(config *Config) {
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Server.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Server.LogFormat = strings.ToLower(format)
	}
	if path := os.Getenv("CATALOG_PATH"); path != "" {
		config.CatalogPath = path
	}
	if ip := os.Getenv("SELF_IP"); ip != "" {
		config.SelfIP.Static = ip
	}
	if schedule, ok := os.LookupEnv("PROBE_SCHEDULE"); ok {
		config.Prober.Schedule = schedule
	}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		config.Security.EncryptionKey = key
	}
	if priority := os.Getenv("MODEL_PRIORITY"); priority != "" {
		config.Router.ModelPriority = splitList(priority)
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("%w: max_idle_conns exceeds max_open_conns", ErrInvalidConfig)
	}
	if c.Prober.ProbeTimeout > c.Prober.CycleTimeout {
		return fmt.Errorf("%w: probe_timeout exceeds cycle_timeout", ErrInvalidConfig)
	}
	if c.Prober.Schedule != "" {
		if _, err := cron.ParseStandard(c.Prober.Schedule); err != nil {
			return fmt.Errorf("%w: prober.schedule: %v", ErrInvalidConfig, err)
		}
	}
	if c.Events.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Events.PruneSchedule); err != nil {
			return fmt.Errorf("%w: events.prune_schedule: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
