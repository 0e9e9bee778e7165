package v1

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/server/middleware"
	"github.com/omniquery/fanout-api/internal/server/validator"
)

type fakeStreamService struct {
	events  []domain.StreamEvent
	err     error
	gotSpec *domain.RequestSpec
}

func (f *fakeStreamService) Stream(ctx context.Context, spec *domain.RequestSpec) (<-chan domain.StreamEvent, error) {
	f.gotSpec = spec
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan domain.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newStreamRouter(svc StreamService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler(zap.NewNop()))
	h := NewStreamHandler(svc, validator.New(), zap.NewNop())
	r.POST("/v1/stream", h.Stream)
	return r
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's
// Context.Stream requires, which httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return c.closed }

func postStream(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/stream", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(&closeNotifyRecorder{w, make(chan bool, 1)}, req)
	return w
}

func TestStreamEmitsSSEFrames(t *testing.T) {
	svc := &fakeStreamService{events: []domain.StreamEvent{
		domain.ChunkEvent("Hel", 0),
		domain.ChunkEvent("lo", 1),
		domain.FinishEvent("stop"),
		domain.DoneEvent(5),
	}}

	w := postStream(t, newStreamRouter(svc), `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	frames := strings.Split(strings.TrimSuffix(w.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 4)
	assert.JSONEq(t, `{"text":"Hel","index":0}`, strings.TrimPrefix(frames[0], "data: "))
	assert.JSONEq(t, `{"text":"lo","index":1}`, strings.TrimPrefix(frames[1], "data: "))
	assert.JSONEq(t, `{"finish_reason":"stop"}`, strings.TrimPrefix(frames[2], "data: "))
	assert.JSONEq(t, `{"done":true,"total_length":5}`, strings.TrimPrefix(frames[3], "data: "))
}

func TestStreamSingularProviderFieldSelectsProvider(t *testing.T) {
	svc := &fakeStreamService{events: []domain.StreamEvent{
		domain.ChunkEvent("ok", 0),
		domain.DoneEvent(2),
	}}

	w := postStream(t, newStreamRouter(svc), `{"prompt":"hi","provider":"anthropic"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gotSpec)
	require.NotEmpty(t, svc.gotSpec.Providers)
	assert.Equal(t, "anthropic", svc.gotSpec.Providers[0])
}

func TestStreamErrorEventEndsTheStream(t *testing.T) {
	svc := &fakeStreamService{events: []domain.StreamEvent{
		domain.ChunkEvent("par", 0),
		domain.ErrorEvent(&domain.ErrorRecord{Kind: domain.KindServerError, Provider: "openai", RawMessage: "upstream reset"}),
	}}

	w := postStream(t, newStreamRouter(svc), `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `"error"`)
	assert.Contains(t, body, `"server_error"`)
	assert.NotContains(t, body, `"done"`)
}

func TestStreamBlockedProviderIs403(t *testing.T) {
	svc := &fakeStreamService{err: &domain.NoProvidersError{Blocked: []domain.BlockedProvider{
		{Provider: "openai", Reason: "unknown provider"},
	}}}

	w := postStream(t, newStreamRouter(svc), `{"prompt":"hi","providers":["openai"]}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "unknown provider")
}

func TestStreamMissingPromptIs400(t *testing.T) {
	svc := &fakeStreamService{}
	w := postStream(t, newStreamRouter(svc), `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
