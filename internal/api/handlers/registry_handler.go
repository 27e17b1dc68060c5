package handlers

import (
	"context"
	"net/http"

	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	"github.com/gin-gonic/gin"
)

// failuresDescription /api/provider-failures 的说明文字
const failuresDescription = "Provider failure details from the last automated test cycle"

// Refresher 后台探测触发器
type Refresher interface {
	TryStart(ctx context.Context) bool
}

// RegistryHandler 供应商与模型视图
type RegistryHandler struct {
	registry *provider.Registry
	ledger   *balancer.FailureLedger
	cache    *balancer.SuccessCache
	prober   Refresher
}

// NewRegistryHandler 创建 RegistryHandler
func NewRegistryHandler(
	registry *provider.Registry,
	ledger *balancer.FailureLedger,
	cache *balancer.SuccessCache,
	prober Refresher,
) *RegistryHandler {
	return &RegistryHandler{
		registry: registry,
		ledger:   ledger,
		cache:    cache,
		prober:   prober,
	}
}

// ProviderFailuresResponse 故障账本视图
type ProviderFailuresResponse struct {
	Failures             map[string]balancer.FailureRecord `json:"failures"`
	TotalFailedProviders int                               `json:"total_failed_providers"`
	Description          string                            `json:"description"`
}

// SuccessesResponse 成功缓存视图
type SuccessesResponse struct {
	Model     string                  `json:"model,omitempty"`
	Providers []string                `json:"providers"`
	Entries   []balancer.SuccessEntry `json:"entries,omitempty"`
}

// RefreshResponse 触发探测的结果
type RefreshResponse struct {
	Started bool `json:"started"`
}

// ListProviders 可用供应商
// @Summary 列出可用供应商
// @Tags providers
// @Produce json
// @Router /api/providers [get]
func (h *RegistryHandler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.WorkingProviders())
}

// ListModels 模型到可用供应商的映射
// @Router /api/models [get]
func (h *RegistryHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Models())
}

// ProviderFailures 最近一次探测周期的失败详情
// @Router /api/provider-failures [get]
func (h *RegistryHandler) ProviderFailures(c *gin.Context) {
	failures := h.ledger.All()
	c.JSON(http.StatusOK, ProviderFailuresResponse{
		Failures:             failures,
		TotalFailedProviders: len(failures),
		Description:          failuresDescription,
	})
}

// Successes 最近成功的供应商
// 指定 model 时返回该模型的供应商，否则返回全部条目
// @Router /api/successes [get]
func (h *RegistryHandler) Successes(c *gin.Context) {
	model := c.Query("model")
	resp := SuccessesResponse{Model: model, Providers: h.cache.Query(model)}
	if model == "" {
		resp.Entries = h.cache.Entries()
	}
	if resp.Providers == nil {
		resp.Providers = []string{}
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh 在后台启动一次探测周期，已有周期在运行时 started 为 false
// @Router /api/providers/refresh [post]
func (h *RegistryHandler) Refresh(c *gin.Context) {
	started := h.prober.TryStart(c.Request.Context())
	c.JSON(http.StatusAccepted, RefreshResponse{Started: started})
}
