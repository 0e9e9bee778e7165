package v1

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/store/model"
)

// RequestLogSource reads persisted request outcomes. Satisfied by the
// store's request repository.
type RequestLogSource interface {
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

type RequestHandler struct {
	logs RequestLogSource
}

func NewRequestHandler(logs RequestLogSource) *RequestHandler {
	return &RequestHandler{logs: logs}
}

type requestLogView struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	IsStreamed bool      `json:"is_streamed"`
	OutputLen  int       `json:"output_len"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListRecent reports the most recently logged provider calls, newest
// first. The limit query param is clamped to [1, 200].
//
// GET /v1/requests
func (h *RequestHandler) ListRecent(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = c.Error(domain.ValidationProblem(map[string]string{
				"limit": "must be a positive integer",
			}))
			return
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	logs, err := h.logs.GetRecent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(domain.InternalProblem("Failed to read request logs", err))
		return
	}

	views := make([]requestLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, requestLogView{
			ID:         l.ID,
			Provider:   l.ProviderID,
			Model:      l.ModelID,
			Status:     l.Status,
			ErrorKind:  l.ErrorKind,
			LatencyMS:  l.LatencyMS,
			IsStreamed: l.IsStreamed,
			OutputLen:  l.OutputLen,
			CreatedAt:  l.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"requests": views})
}
