package v1

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

type ProviderHandler struct {
	snapshots SnapshotSource
}

func NewProviderHandler(snapshots SnapshotSource) *ProviderHandler {
	return &ProviderHandler{snapshots: snapshots}
}

type providerView struct {
	ID             string `json:"id"`
	Enabled        bool   `json:"enabled"`
	Callable       bool   `json:"callable"`
	DefaultModel   string `json:"default_model,omitempty"`
	MaxOutputCap   int    `json:"max_output_cap,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type modelView struct {
	Provider        string `json:"provider"`
	ModelID         string `json:"model_id"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	ContextWindow   int    `json:"context_window,omitempty"`
}

// List reports the currently cached provider/model snapshot. The enabled
// flag controls visibility here, not callability, so disabled providers
// are dropped from the listing entirely.
//
// GET /v1/providers
func (h *ProviderHandler) List(c *gin.Context) {
	snap := h.snapshots.Get(c.Request.Context())

	providers := make([]providerView, 0, len(snap.Providers))
	for id, cfg := range snap.Providers {
		if !cfg.Enabled {
			continue
		}
		providers = append(providers, providerView{
			ID:             id,
			Enabled:        cfg.Enabled,
			Callable:       snap.Callable(id),
			DefaultModel:   cfg.DefaultModel,
			MaxOutputCap:   cfg.MaxOutputCap,
			TimeoutSeconds: cfg.TimeoutSeconds,
		})
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })

	models := make([]modelView, 0)
	for _, m := range snap.Models {
		if !m.IsActive {
			continue
		}
		models = append(models, modelView{
			Provider:        m.Provider,
			ModelID:         m.ModelID,
			MaxOutputTokens: m.MaxOutputTokens,
			ContextWindow:   m.ContextWindow,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"providers":         providers,
		"models":            models,
		"cache_age_seconds": int(h.snapshots.Age().Seconds()),
	})
}
