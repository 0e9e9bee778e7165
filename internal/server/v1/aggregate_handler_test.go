package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cachememory "github.com/omniquery/fanout-api/internal/cache/memory"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/server/middleware"
	"github.com/omniquery/fanout-api/internal/server/validator"
)

type fakeAggregator struct {
	results []domain.ProviderResult
	blocked []domain.BlockedProvider
	err     error
	calls   int
}

func (f *fakeAggregator) Aggregate(ctx context.Context, spec *domain.RequestSpec) ([]domain.ProviderResult, []domain.BlockedProvider, error) {
	f.calls++
	return f.results, f.blocked, f.err
}

func strptr(s string) *string { return &s }

func newAggregateRouter(h *AggregateHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler(zap.NewNop()))
	r.POST("/v1/aggregate", h.Aggregate)
	return r
}

func postAggregate(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/aggregate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAggregatePartialFailureIsStill200(t *testing.T) {
	svc := &fakeAggregator{results: []domain.ProviderResult{
		{Provider: "openai", Model: "gpt-4o", Content: strptr("hello"), Status: domain.StatusSuccess, LatencyMs: 120},
		{Provider: "anthropic", Model: "claude", Status: domain.StatusError, LatencyMs: 80,
			Error: &domain.ErrorRecord{Kind: domain.KindRateLimited, Retryable: true, StatusCode: 429, Provider: "anthropic"}},
	}}
	h := NewAggregateHandler(svc, nil, time.Minute, validator.New(), zap.NewNop())

	w := postAggregate(t, newAggregateRouter(h), `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp aggregateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Responses, 2)
	assert.Equal(t, 2, resp.Meta.TotalEngines)
	assert.Equal(t, 1, resp.Meta.Successful)
	assert.Equal(t, 1, resp.Meta.Failed)
	assert.Equal(t, "rate_limited", string(resp.Responses[1].Error.Kind))
}

func TestAggregateAllBlockedIs403WithReasons(t *testing.T) {
	svc := &fakeAggregator{err: &domain.NoProvidersError{Blocked: []domain.BlockedProvider{
		{Provider: "openai", Reason: "provider has no active models"},
	}}}
	h := NewAggregateHandler(svc, nil, time.Minute, validator.New(), zap.NewNop())

	w := postAggregate(t, newAggregateRouter(h), `{"prompt":"hi","providers":["openai"]}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	blocked, ok := body["blocked"].([]interface{})
	require.True(t, ok)
	require.Len(t, blocked, 1)
	entry := blocked[0].(map[string]interface{})
	assert.Equal(t, "openai", entry["provider"])
	assert.Equal(t, "provider has no active models", entry["reason"])
}

func TestAggregateMissingPromptIs400(t *testing.T) {
	svc := &fakeAggregator{}
	h := NewAggregateHandler(svc, nil, time.Minute, validator.New(), zap.NewNop())

	w := postAggregate(t, newAggregateRouter(h), `{"max_tokens":100}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.calls)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errs, ok := body["errors"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, errs, "prompt")
}

func TestAggregateServesSecondIdenticalRequestFromCache(t *testing.T) {
	svc := &fakeAggregator{results: []domain.ProviderResult{
		{Provider: "openai", Model: "gpt-4o", Content: strptr("hello"), Status: domain.StatusSuccess},
	}}
	h := NewAggregateHandler(svc, cachememory.NewMemoryCache(), time.Minute, validator.New(), zap.NewNop())
	r := newAggregateRouter(h)

	w1 := postAggregate(t, r, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w1.Code)
	w2 := postAggregate(t, r, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w2.Code)

	assert.Equal(t, 1, svc.calls)
	assert.JSONEq(t, w1.Body.String(), w2.Body.String())

	// A different prompt misses the cache.
	w3 := postAggregate(t, r, `{"prompt":"bye"}`)
	require.Equal(t, http.StatusOK, w3.Code)
	assert.Equal(t, 2, svc.calls)
}
