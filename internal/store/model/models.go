package model

import (
	"time"

	"github.com/omniquery/fanout-api/internal/domain"
)

// ProviderRow is the persisted view of one upstream service's enablement
// and limits.
type ProviderRow struct {
	ID             string    `db:"id"`
	Enabled        bool      `db:"enabled"`
	DefaultModel   string    `db:"default_model"`
	MaxOutputCap   int       `db:"max_output_cap"`
	TimeoutSeconds int       `db:"timeout_seconds"`
	Temperature    float64   `db:"temperature"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *ProviderRow) ToDomain() domain.ProviderConfig {
	return domain.ProviderConfig{
		ID:             r.ID,
		Enabled:        r.Enabled,
		DefaultModel:   r.DefaultModel,
		MaxOutputCap:   r.MaxOutputCap,
		TimeoutSeconds: r.TimeoutSeconds,
		Temperature:    r.Temperature,
	}
}

// ModelRow is one model offered by a provider.
type ModelRow struct {
	ProviderID      string    `db:"provider_id"`
	ModelID         string    `db:"model_id"`
	IsActive        bool      `db:"is_active"`
	MaxOutputTokens int       `db:"max_output_tokens"`
	ContextWindow   int       `db:"context_window"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *ModelRow) ToDomain() domain.ModelConfig {
	return domain.ModelConfig{
		Provider:        r.ProviderID,
		ModelID:         r.ModelID,
		IsActive:        r.IsActive,
		MaxOutputTokens: r.MaxOutputTokens,
		ContextWindow:   r.ContextWindow,
	}
}

// RequestLog captures one provider call's outcome, streaming or not.
type RequestLog struct {
	ID         string    `db:"id"`
	ProviderID string    `db:"provider_id"`
	ModelID    string    `db:"model_id"`
	Status     string    `db:"status"`
	ErrorKind  string    `db:"error_kind"`
	LatencyMS  int64     `db:"latency_ms"`
	IsStreamed bool      `db:"is_streamed"`
	OutputLen  int       `db:"output_len"`
	CreatedAt  time.Time `db:"created_at"`
}
