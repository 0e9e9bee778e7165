package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/orchestrator"
	"github.com/omniquery/fanout-api/internal/server/validator"
)

type StreamHandler struct {
	service   StreamService
	validator *validator.Validator
	logger    *zap.Logger
}

func NewStreamHandler(service StreamService, v *validator.Validator, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		service:   service,
		validator: v,
		logger:    logger,
	}
}

// Stream proxies one provider's completion as server-sent events.
//
// POST /v1/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.ValidationProblem(h.validator.ParseError(err)))
		return
	}

	// Client disconnect cancels this context and with it the upstream
	// call.
	events, err := h.service.Stream(c.Request.Context(), req.toSpec())
	if err != nil {
		h.writeConnectError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}

		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("stream event marshal failed", zap.Error(err))
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}

		// An error event is terminal; stop before the transport sees
		// anything after it.
		return ev.Type != domain.EventError
	})
}

// writeConnectError reports a failure that happened before any SSE bytes
// went out, so a regular JSON status is still possible.
func (h *StreamHandler) writeConnectError(c *gin.Context, err error) {
	var npErr *domain.NoProvidersError
	if errors.As(err, &npErr) {
		_ = c.Error(domain.ForbiddenProblem(orchestrator.Describe(npErr.Blocked), npErr.Blocked))
		return
	}

	var rec *domain.ErrorRecord
	if errors.As(err, &rec) {
		_ = c.Error(domain.NewProblem(http.StatusBadGateway, "Upstream Error", rec.RawMessage,
			domain.WithExtension("error", rec)))
		return
	}

	_ = c.Error(domain.InternalProblem("Failed to open stream", err))
}
