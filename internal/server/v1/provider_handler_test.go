package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniquery/fanout-api/internal/domain"
)

type fakeSnapshots struct {
	snap *domain.ConfigSnapshot
	age  time.Duration
}

func (f *fakeSnapshots) Get(ctx context.Context) *domain.ConfigSnapshot { return f.snap }
func (f *fakeSnapshots) Age() time.Duration                             { return f.age }

func TestProviderListHidesDisabledProviders(t *testing.T) {
	snap := &domain.ConfigSnapshot{
		Providers: map[string]domain.ProviderConfig{
			"openai":    {ID: "openai", Enabled: true, DefaultModel: "gpt-4o", MaxOutputCap: 2048},
			"anthropic": {ID: "anthropic", Enabled: false, DefaultModel: "claude"},
		},
		Models: []domain.ModelConfig{
			{Provider: "openai", ModelID: "gpt-4o", IsActive: true, MaxOutputTokens: 4096},
			{Provider: "openai", ModelID: "gpt-3.5", IsActive: false},
			{Provider: "anthropic", ModelID: "claude", IsActive: true},
		},
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewProviderHandler(&fakeSnapshots{snap: snap, age: 42 * time.Second})
	r.GET("/v1/providers", h.List)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Providers       []providerView `json:"providers"`
		Models          []modelView    `json:"models"`
		CacheAgeSeconds int            `json:"cache_age_seconds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	require.Len(t, body.Providers, 1)
	assert.Equal(t, "openai", body.Providers[0].ID)
	assert.True(t, body.Providers[0].Callable)
	assert.Equal(t, 2048, body.Providers[0].MaxOutputCap)

	// Only active models appear, disabled providers' models included
	// since enablement is a visibility flag on the provider listing only.
	require.Len(t, body.Models, 2)
	assert.Equal(t, 42, body.CacheAgeSeconds)
}
