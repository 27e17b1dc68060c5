package api

import (
	"net/http"

	"github.com/Mieluoxxx/NoFail-API/internal/adapter"
	"github.com/Mieluoxxx/NoFail-API/internal/api/handlers"
	"github.com/Mieluoxxx/NoFail-API/internal/api/middleware"
	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	"github.com/Mieluoxxx/NoFail-API/internal/stats"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies 路由所需的组件
type Dependencies struct {
	Completer   handlers.Completer
	Adapter     *adapter.Adapter
	Registry    *provider.Registry
	Ledger      *balancer.FailureLedger
	Cache       *balancer.SuccessCache
	Prober      handlers.Refresher
	Health      handlers.HealthSummarizer
	Counter     *stats.CompletionCounter
	Events      handlers.EventQuerier
	CORSOrigins []string
	Logger      *zap.Logger
}

// SetupRouter 配置路由
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(deps.Logger),
		middleware.CORS(deps.CORSOrigins),
	)

	// 未提供界面，根路径跳转到健康检查
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/api/health")
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		setupCompletionRoutes(apiGroup, deps)
		setupRegistryRoutes(apiGroup, deps)

		statsHandler := handlers.NewStatsHandler(deps.Health, deps.Registry, deps.Counter, deps.Events, deps.Logger)
		apiGroup.GET("/stats", statsHandler.GetStats)
	}

	return router
}

// setupCompletionRoutes 配置补全路由
func setupCompletionRoutes(group *gin.RouterGroup, deps Dependencies) {
	handler := handlers.NewCompletionHandler(deps.Completer, deps.Adapter)
	group.POST("/completions", handler.Complete)
}

// setupRegistryRoutes 配置供应商与模型路由
func setupRegistryRoutes(group *gin.RouterGroup, deps Dependencies) {
	handler := handlers.NewRegistryHandler(deps.Registry, deps.Ledger, deps.Cache, deps.Prober)

	providers := group.Group("/providers")
	{
		providers.GET("", handler.ListProviders)
		providers.POST("/refresh", handler.Refresh)
	}
	group.GET("/models", handler.ListModels)
	group.GET("/provider-failures", handler.ProviderFailures)
	group.GET("/successes", handler.Successes)
}
