package v1

import (
	"context"
	"time"

	"github.com/omniquery/fanout-api/internal/domain"
)

// Aggregator is the fan-out entry point. Satisfied by
// *orchestrator.Orchestrator.
type Aggregator interface {
	Aggregate(ctx context.Context, spec *domain.RequestSpec) ([]domain.ProviderResult, []domain.BlockedProvider, error)
}

// StreamService opens a normalized single-provider event stream.
// Satisfied by *streamer.Streamer.
type StreamService interface {
	Stream(ctx context.Context, spec *domain.RequestSpec) (<-chan domain.StreamEvent, error)
}

// SnapshotSource serves the provider/model snapshot and its age.
// Satisfied by *configcache.Cache.
type SnapshotSource interface {
	Get(ctx context.Context) *domain.ConfigSnapshot
	Age() time.Duration
}

type attachmentPayload struct {
	Name     string `json:"name" binding:"required"`
	MimeType string `json:"mime_type"`
	Text     string `json:"text" binding:"required"`
}

type promptRequest struct {
	Prompt      string              `json:"prompt" binding:"required"`
	MaxTokens   int                 `json:"max_tokens" binding:"omitempty,gt=0"`
	Attachments []attachmentPayload `json:"attachments" binding:"omitempty,dive"`
	Provider    string              `json:"provider"`
	Providers   []string            `json:"providers"`
	Model       string              `json:"model"`
}

func (r *promptRequest) toSpec() *domain.RequestSpec {
	spec := &domain.RequestSpec{
		Prompt:    r.Prompt,
		MaxTokens: r.MaxTokens,
		Providers: r.Providers,
		Model:     r.Model,
	}
	// The singular form names the one provider to use; it goes in front so
	// the stream path picks it over any list entries.
	if r.Provider != "" {
		spec.Providers = append([]string{r.Provider}, r.Providers...)
	}
	for _, a := range r.Attachments {
		spec.Attachments = append(spec.Attachments, domain.Attachment{
			Name:     a.Name,
			MimeType: a.MimeType,
			Text:     a.Text,
		})
	}
	return spec
}
