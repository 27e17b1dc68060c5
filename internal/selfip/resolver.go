package selfip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultLookupURL 公网 IP 查询地址
const DefaultLookupURL = "https://api.ipify.org?format=json"

// Config 本机 IP 配置
type Config struct {
	Static     string        `yaml:"static"`      // 非空时直接使用，不再查询
	LookupURL  string        `yaml:"lookup_url"`  // 默认: ipify
	Timeout    time.Duration `yaml:"timeout"`     // 默认: 5秒
	RetryAfter time.Duration `yaml:"retry_after"` // 查询失败后的冷却时间，默认: 30秒
}

// Resolver 本机公网 IP，首次查询成功后缓存
// 并发调用共享同一次查询；失败后在冷却时间内直接返回空字符串
type Resolver struct {
	mu       sync.Mutex
	cached   string
	failedAt time.Time

	group      singleflight.Group
	lookupURL  string
	retryAfter time.Duration
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// New 创建 Resolver
func New(cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupURL == "" {
		cfg.LookupURL = DefaultLookupURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}

	return &Resolver{
		cached:     strings.TrimSpace(cfg.Static),
		lookupURL:  cfg.LookupURL,
		retryAfter: cfg.RetryAfter,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// IP 返回本机公网 IP；查询失败或仍在冷却中时返回空字符串
func (r *Resolver) IP(ctx context.Context) string {
	r.mu.Lock()
	if r.cached != "" {
		ip := r.cached
		r.mu.Unlock()
		return ip
	}
	coolingDown := !r.failedAt.IsZero() && r.now().Sub(r.failedAt) < r.retryAfter
	r.mu.Unlock()
	if coolingDown {
		return ""
	}

	// 查询不随单个调用方取消，由 client 超时兜底
	ch := r.group.DoChan("lookup", func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return ""
		}
		return res.Val.(string)
	case <-ctx.Done():
		return ""
	}
}

func (r *Resolver) resolve(ctx context.Context) (string, error) {
	ip, err := r.lookup(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failedAt = r.now()
		r.logger.Warn("public ip lookup failed, ip check disabled",
			zap.Duration("retry_after", r.retryAfter),
			zap.Error(err),
		)
		return "", err
	}
	r.cached = ip
	r.failedAt = time.Time{}
	r.logger.Info("public ip resolved", zap.String("ip", ip))
	return ip, nil
}

func (r *Resolver) lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "NoFail-API/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("查询公网 IP 失败: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("读取响应失败: %w", err)
	}

	ip := strings.TrimSpace(gjson.GetBytes(body, "ip").String())
	if ip == "" {
		return "", fmt.Errorf("响应中没有 ip 字段: %s", string(body))
	}
	return ip, nil
}

// Contains 文本中是否出现了本机 IP（不区分大小写）
func Contains(text, ip string) bool {
	if ip == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(ip))
}
