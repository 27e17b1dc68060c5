package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/Mieluoxxx/NoFail-API/internal/completion"
	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	"github.com/Mieluoxxx/NoFail-API/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompleter 返回预设结果并记录参数
type stubCompleter struct {
	result   *completion.Result
	err      error
	model    string
	provider string
	messages []models.Message
}

func (s *stubCompleter) Complete(_ context.Context, messages []models.Message, model, providerName string) (*completion.Result, error) {
	s.messages, s.model, s.provider = messages, model, providerName
	return s.result, s.err
}

func setupCompletionRouter(c Completer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/completions", NewCompletionHandler(c, nil).Complete)
	return router
}

func postCompletion(router *gin.Engine, query, body string) (*httptest.ResponseRecorder, ErrorResponse) {
	req := httptest.NewRequest(http.MethodPost, "/api/completions"+query, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

const validBody = `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`

func TestComplete_Success(t *testing.T) {
	stub := &stubCompleter{result: &completion.Result{
		Text:     `{"choices":[{"message":{"role":"assistant","content":"unwrapped"}}]}`,
		Model:    "gpt-4",
		Provider: "Alpha",
		Attempts: 1,
	}}
	router := setupCompletionRouter(stub)

	w, _ := postCompletion(router, "?model=gpt-4&provider=Alpha", validBody)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CompletionResponse{Completion: "unwrapped", Model: "gpt-4", Provider: "Alpha"}, resp)
	assert.Equal(t, "gpt-4", stub.model)
	assert.Equal(t, "Alpha", stub.provider)
	require.Len(t, stub.messages, 2)
	assert.Equal(t, "assistant", stub.messages[1].Role)
}

func TestComplete_RequestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"broken json", `{"messages":`},
		{"no messages", `{}`},
		{"empty messages", `{"messages":[]}`},
		{"system role", `{"messages":[{"role":"system","content":"x"}]}`},
		{"missing content", `{"messages":[{"role":"user"}]}`},
		{"unknown field", `{"messages":[{"role":"user","content":"x"}],"stream":true}`},
		{"unknown message field", `{"messages":[{"role":"user","content":"x","name":"bob"}]}`},
		{"trailing data", validBody + `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCompleter{}
			w, resp := postCompletion(setupCompletionRouter(stub), "", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeValidationError, resp.Error.Code)
			assert.Nil(t, stub.messages, "service must not be called")
		})
	}
}

func TestComplete_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		status   int
	}{
		{"unknown model", completion.NewModelUnknownError("x"), completion.CodeModelUnknown, http.StatusUnprocessableEntity},
		{"unknown provider", completion.NewProviderUnknownError("p"), completion.CodeProviderUnknown, http.StatusUnprocessableEntity},
		{"unavailable", completion.NewProviderUnavailableError("gpt-4"), completion.CodeProviderUnavailable, http.StatusServiceUnavailable},
		{"no candidate", completion.NewNoCandidateFoundError("gpt-4", "Alpha", 10, nil), completion.CodeNoCandidateFound, http.StatusInternalServerError},
		{"empty response", completion.NewUnexpectedResponseShapeError("gpt-4", "Alpha"), completion.CodeUnexpectedResponseShape, http.StatusBadGateway},
		{"raw client error", errors.New("connection refused"), completion.CodeProviderCallFailed, http.StatusBadGateway},
		{"wrapped completion error", fmt.Errorf("outer: %w", completion.NewModelUnknownError("x")), completion.CodeModelUnknown, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupCompletionRouter(&stubCompleter{err: tt.err})
			w, resp := postCompletion(router, "?model=gpt-4&provider=Alpha", validBody)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestComplete_ClientErrorDetails(t *testing.T) {
	router := setupCompletionRouter(&stubCompleter{err: errors.New("connection refused")})
	w, _ := postCompletion(router, "?model=gpt-4&provider=Alpha", validBody)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var raw struct {
		Error struct {
			Details completionErrorDetails `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "gpt-4", raw.Error.Details.Model)
	assert.Equal(t, "Alpha", raw.Error.Details.Provider)
	assert.Equal(t, "connection refused", raw.Error.Details.Cause)
}

func TestComplete_ResolvedPairInDetails(t *testing.T) {
	err := completion.NewProviderCallFailedError("gpt-4o", "Beta", errors.New("timeout"))
	router := setupCompletionRouter(&stubCompleter{err: err})
	w, _ := postCompletion(router, "?provider=Beta", validBody)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var raw struct {
		Error struct {
			Code    string                 `json:"code"`
			Details completionErrorDetails `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, completion.CodeProviderCallFailed, raw.Error.Code)
	assert.Equal(t, "gpt-4o", raw.Error.Details.Model)
	assert.Equal(t, "Beta", raw.Error.Details.Provider)
	assert.Equal(t, 1, raw.Error.Details.Attempts)
	assert.Equal(t, "timeout", raw.Error.Details.Cause)
}

// ==================== RegistryHandler ====================

type fixedRefresher struct{ started bool }

func (r fixedRefresher) TryStart(context.Context) bool { return r.started }

func newTestRegistry() *provider.Registry {
	return provider.NewRegistry([]*provider.Descriptor{
		{Name: "Alpha", BaseURL: "https://alpha.test", APIKey: "secret", SupportedModels: []string{"gpt-4"}},
		{Name: "Beta", BaseURL: "https://beta.test", SupportedModels: []string{"gpt-4o"}},
	}, map[string]string{"gpt-4": "Alpha", "gpt-4o": "Beta"})
}

func TestRegistryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := newTestRegistry()
	registry.ReplaceWorkingSet([]string{"Beta"})
	ledger := balancer.NewFailureLedger()
	ledger.Record(balancer.NewFailureRecord("Alpha", "gpt-4", nil, errors.New("boom")))
	cache := balancer.NewSuccessCache(nil)
	cache.Record("Beta", "gpt-4o")

	for _, started := range []bool{true, false} {
		h := NewRegistryHandler(registry, ledger, cache, fixedRefresher{started: started})
		router := gin.New()
		router.GET("/api/providers", h.ListProviders)
		router.GET("/api/models", h.ListModels)
		router.GET("/api/provider-failures", h.ProviderFailures)
		router.GET("/api/successes", h.Successes)
		router.POST("/api/providers/refresh", h.Refresh)

		get := func(path string) map[string]interface{} {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, w.Code)
			var out map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
			return out
		}

		providers := get("/api/providers")
		assert.Len(t, providers, 1)
		assert.Contains(t, providers, "Beta")

		modelMap := get("/api/models")
		assert.Equal(t, map[string]interface{}{"gpt-4o": []interface{}{"Beta"}}, modelMap)

		failures := get("/api/provider-failures")
		assert.Equal(t, float64(1), failures["total_failed_providers"])
		assert.Equal(t, failuresDescription, failures["description"])

		successes := get("/api/successes?model=gpt-4o")
		assert.Equal(t, []interface{}{"Beta"}, successes["providers"])
		assert.Nil(t, successes["entries"])

		none := get("/api/successes?model=gpt-4")
		assert.Equal(t, []interface{}{}, none["providers"])

		all := get("/api/successes")
		assert.Len(t, all["entries"], 1)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/providers/refresh", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, fmt.Sprintf(`{"started":%t}`, started), w.Body.String())
	}
}

// ==================== StatsHandler ====================

type stubHealth struct {
	summary map[string]int64
	err     error
}

func (s stubHealth) HealthSummary() (map[string]int64, error) { return s.summary, s.err }

type stubEvents struct {
	events []models.SystemEvent
	counts map[string]int64
	err    error
}

func (s stubEvents) RecentEvents(string, int) ([]models.SystemEvent, error) { return s.events, s.err }
func (s stubEvents) CountSince(time.Time) (map[string]int64, error)         { return s.counts, s.err }

func getStats(t *testing.T, h *StatsHandler) SystemStats {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/stats", h.GetStats)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out SystemStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStatsHandler(t *testing.T) {
	counter := stats.NewCompletionCounter(time.Minute)
	counter.Record(stats.Outcome{Succeeded: true, Attempts: 3})
	counter.Record(stats.Outcome{Succeeded: false, Attempts: 1})

	h := NewStatsHandler(
		stubHealth{summary: map[string]int64{
			models.HealthStatusHealthy:   2,
			models.HealthStatusUnhealthy: 1,
		}},
		newTestRegistry(),
		counter,
		stubEvents{
			events: []models.SystemEvent{{Type: models.EventTypeFailover, Level: models.EventLevelWarning, Message: "switch", CreatedAt: time.Now()}},
			counts: map[string]int64{models.EventTypeFailover: 4},
		},
		nil,
	)

	out := getStats(t, h)
	assert.Equal(t, ProviderStats{Total: 3, Working: 2, Healthy: 2, Unhealthy: 1}, out.Providers)
	assert.Equal(t, int64(2), out.Completions.Total)
	assert.Equal(t, int64(1), out.Completions.Succeeded)
	assert.Equal(t, 2.0, out.Completions.AvgAttempts)
	assert.Equal(t, int64(4), out.EventCounts[models.EventTypeFailover])
	require.Len(t, out.RecentEvents, 1)
	assert.Equal(t, "switch", out.RecentEvents[0].Message)
}

func TestStatsHandler_StoreErrors(t *testing.T) {
	storeErr := errors.New("database is locked")
	h := NewStatsHandler(
		stubHealth{err: storeErr},
		newTestRegistry(),
		stats.NewCompletionCounter(time.Minute),
		stubEvents{err: storeErr},
		nil,
	)

	out := getStats(t, h)
	assert.Equal(t, int64(0), out.Providers.Total)
	assert.Equal(t, 2, out.Providers.Working)
	assert.Empty(t, out.RecentEvents)
	assert.Empty(t, out.EventCounts)
}
