package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/internal/cache"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/orchestrator"
	"github.com/omniquery/fanout-api/internal/server/validator"
)

type AggregateHandler struct {
	service   Aggregator
	respCache cache.CacheService
	respTTL   time.Duration
	validator *validator.Validator
	logger    *zap.Logger
}

// NewAggregateHandler builds the fan-out handler. respCache may be nil
// to disable response caching.
func NewAggregateHandler(service Aggregator, respCache cache.CacheService, respTTL time.Duration, v *validator.Validator, logger *zap.Logger) *AggregateHandler {
	return &AggregateHandler{
		service:   service,
		respCache: respCache,
		respTTL:   respTTL,
		validator: v,
		logger:    logger,
	}
}

type aggregateMeta struct {
	TotalEngines   int   `json:"total_engines"`
	Successful     int   `json:"successful"`
	Failed         int   `json:"failed"`
	TotalLatencyMs int64 `json:"total_latency_ms"`
}

type aggregateResponse struct {
	Responses []domain.ProviderResult `json:"responses"`
	Meta      aggregateMeta           `json:"meta"`
}

// Aggregate fans one prompt out to every resolved provider.
//
// POST /v1/aggregate
func (h *AggregateHandler) Aggregate(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.ValidationProblem(h.validator.ParseError(err)))
		return
	}

	key := requestKey(&req)
	if h.respCache != nil {
		var cached aggregateResponse
		if err := h.respCache.Get(c.Request.Context(), key, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	start := time.Now()
	results, _, err := h.service.Aggregate(c.Request.Context(), req.toSpec())
	if err != nil {
		var npErr *domain.NoProvidersError
		if errors.As(err, &npErr) {
			_ = c.Error(domain.ForbiddenProblem(orchestrator.Describe(npErr.Blocked), npErr.Blocked))
			return
		}
		_ = c.Error(domain.InternalProblem("Failed to process aggregate request", err))
		return
	}

	resp := aggregateResponse{
		Responses: results,
		Meta: aggregateMeta{
			TotalEngines:   len(results),
			TotalLatencyMs: time.Since(start).Milliseconds(),
		},
	}
	for _, r := range results {
		if r.Status == domain.StatusSuccess {
			resp.Meta.Successful++
		} else {
			resp.Meta.Failed++
		}
	}

	if h.respCache != nil {
		if err := h.respCache.Set(c.Request.Context(), key, resp, h.respTTL); err != nil {
			h.logger.Warn("response cache write failed", zap.Error(err))
		}
	}

	// Partial failure is still a 200; per-provider errors ride inside
	// the responses array.
	c.JSON(http.StatusOK, resp)
}

// requestKey hashes the canonical request body so identical prompts with
// identical parameters share a cache slot.
func requestKey(req *promptRequest) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return "agg:" + hex.EncodeToString(sum[:])
}
