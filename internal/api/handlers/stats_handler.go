package handlers

import (
	"net/http"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	"github.com/Mieluoxxx/NoFail-API/internal/stats"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// recentEventLimit /api/stats 返回的事件条数
const recentEventLimit = 10

// HealthSummarizer 数据库中各健康状态的供应商数量
type HealthSummarizer interface {
	HealthSummary() (map[string]int64, error)
}

// EventQuerier 系统事件查询
type EventQuerier interface {
	RecentEvents(eventType string, limit int) ([]models.SystemEvent, error)
	CountSince(since time.Time) (map[string]int64, error)
}

// StatsHandler 统计信息处理器
type StatsHandler struct {
	health   HealthSummarizer
	registry *provider.Registry
	counter  *stats.CompletionCounter
	events   EventQuerier
	logger   *zap.Logger
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(
	health HealthSummarizer,
	registry *provider.Registry,
	counter *stats.CompletionCounter,
	events EventQuerier,
	logger *zap.Logger,
) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{
		health:   health,
		registry: registry,
		counter:  counter,
		events:   events,
		logger:   logger,
	}
}

// SystemStats 系统统计信息响应
type SystemStats struct {
	Providers    ProviderStats         `json:"providers"`
	Completions  stats.CompletionStats `json:"completions"`
	EventCounts  map[string]int64      `json:"event_counts_24h"`
	RecentEvents []Event               `json:"recent_events"`
}

// ProviderStats 供应商统计
type ProviderStats struct {
	Total     int64 `json:"total"`
	Working   int   `json:"working"`
	Healthy   int64 `json:"healthy"`
	Unhealthy int64 `json:"unhealthy"`
	Unknown   int64 `json:"unknown"`
}

// Event 事件日志
type Event struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// GetStats 获取系统统计信息
// @Summary 获取系统统计信息
// @Description 供应商健康状态、补全计数与 QPS、最近事件
// @Tags Stats
// @Produce json
// @Success 200 {object} SystemStats
// @Router /api/stats [get]
func (h *StatsHandler) GetStats(c *gin.Context) {
	result := SystemStats{
		Providers: ProviderStats{
			Working: len(h.registry.WorkingSet()),
		},
		Completions:  h.counter.GetStats(),
		EventCounts:  map[string]int64{},
		RecentEvents: []Event{},
	}

	// 数据库查询失败时只记录日志，其余统计照常返回
	if summary, err := h.health.HealthSummary(); err != nil {
		h.logger.Warn("health summary failed", zap.Error(err))
	} else {
		result.Providers.Healthy = summary[models.HealthStatusHealthy]
		result.Providers.Unhealthy = summary[models.HealthStatusUnhealthy]
		result.Providers.Unknown = summary[models.HealthStatusUnknown]
		for _, n := range summary {
			result.Providers.Total += n
		}
	}

	if counts, err := h.events.CountSince(time.Now().Add(-24 * time.Hour)); err != nil {
		h.logger.Warn("count events failed", zap.Error(err))
	} else {
		result.EventCounts = counts
	}

	if recent, err := h.events.RecentEvents("", recentEventLimit); err != nil {
		h.logger.Warn("recent events failed", zap.Error(err))
	} else {
		for _, evt := range recent {
			result.RecentEvents = append(result.RecentEvents, Event{
				Timestamp: evt.CreatedAt.Format(time.RFC3339),
				Type:      evt.Type,
				Level:     evt.Level,
				Message:   evt.Message,
			})
		}
	}

	c.JSON(http.StatusOK, result)
}
