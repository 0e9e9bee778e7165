package domain

import (
	"sort"
	"time"
)

// ProviderConfig is the store-sourced view of one upstream service: whether
// it may be called and the limits that apply to it. Replaced wholesale on
// each config refresh, read-only everywhere else.
type ProviderConfig struct {
	ID             string  `json:"id"`
	Enabled        bool    `json:"enabled"`
	DefaultModel   string  `json:"default_model"`
	MaxOutputCap   int     `json:"max_output_cap"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Temperature    float64 `json:"temperature"`
}

// ModelConfig describes one model offered by a provider. A provider is
// callable iff at least one of its models is active; the Enabled flag on
// ProviderConfig controls main-app visibility only.
type ModelConfig struct {
	Provider        string `json:"provider"`
	ModelID         string `json:"model_id"`
	IsActive        bool   `json:"is_active"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	ContextWindow   int    `json:"context_window"`
}

// ConfigSnapshot is an atomic view of the config store. Published by
// replacing the reference; never mutated in place.
type ConfigSnapshot struct {
	Providers map[string]ProviderConfig
	Models    []ModelConfig
	FetchedAt time.Time
}

// ActiveModels returns the active models for a provider, in store order.
func (s *ConfigSnapshot) ActiveModels(provider string) []ModelConfig {
	var out []ModelConfig
	for _, m := range s.Models {
		if m.Provider == provider && m.IsActive {
			out = append(out, m)
		}
	}
	return out
}

// ModelFor resolves the model to use for a provider: the explicit request
// override, else the provider's default model, else the first active model.
// ok is false when the resolved model is not active for that provider.
func (s *ConfigSnapshot) ModelFor(provider, requested string) (ModelConfig, bool) {
	active := s.ActiveModels(provider)
	if len(active) == 0 {
		return ModelConfig{}, false
	}

	want := requested
	if want == "" {
		want = s.Providers[provider].DefaultModel
	}
	if want == "" {
		return active[0], true
	}

	for _, m := range active {
		if m.ModelID == want {
			return m, true
		}
	}

	// A configured default that is no longer active falls back to the
	// first active model; an explicit request does not.
	if requested == "" {
		return active[0], true
	}
	return ModelConfig{}, false
}

// Callable reports whether a provider may receive API traffic.
func (s *ConfigSnapshot) Callable(provider string) bool {
	if _, known := s.Providers[provider]; !known {
		return false
	}
	return len(s.ActiveModels(provider)) > 0
}

// CallableProviders returns the IDs of all callable providers in a stable
// order (alphabetical is fine here; store order is not preserved by the map).
func (s *ConfigSnapshot) CallableProviders() []string {
	var out []string
	for id := range s.Providers {
		if s.Callable(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
