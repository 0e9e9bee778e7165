package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/omniquery/fanout-api/internal/classifier"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/httpclient"
)

// Config is the static wiring for one adapter instance: where the upstream
// lives and how to authenticate against it. Enablement and limits live in
// the config store, not here.
type Config struct {
	ID      string            `json:"id" yaml:"id" mapstructure:"id"`
	Type    string            `json:"type" yaml:"type" mapstructure:"type"`
	APIKey  string            `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	BaseURL string            `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Config  map[string]string `json:"config" yaml:"config" mapstructure:"config"`
}

// Adapter translates canonical requests into one upstream's wire format and
// its responses back. Each call issues exactly one outbound HTTP request;
// retries belong to the retry engine, not here.
type Adapter interface {
	Name() string
	Type() string
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error)
	StreamComplete(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error)
}

// ClampTokens resolves the effective max_tokens for an upstream call. The
// store cap may be stale or wrong, so the adapter's hard ceiling is always
// applied as the last defense; upstreams reject limits they cannot honor.
func ClampTokens(requested, storeCap, hardCeiling int) int {
	out := hardCeiling
	if storeCap > 0 && storeCap < out {
		out = storeCap
	}
	if requested > 0 && requested < out {
		out = requested
	}
	return out
}

// PromptText flattens the prompt plus any attachment text into the single
// user message adapters send upstream.
func PromptText(req *domain.CompletionRequest) string {
	if len(req.Attachments) == 0 {
		return req.Prompt
	}

	var b strings.Builder
	b.WriteString(req.Prompt)
	for _, a := range req.Attachments {
		b.WriteString("\n\n--- ")
		b.WriteString(a.Name)
		b.WriteString(" ---\n")
		b.WriteString(a.Text)
	}
	return b.String()
}

// ToErrorRecord converts an httpclient failure to the canonical record.
func ToErrorRecord(c *classifier.Classifier, err error) *domain.ErrorRecord {
	var upstream *httpclient.UpstreamError
	if errors.As(err, &upstream) {
		return c.Classify(upstream.StatusCode, upstream.Body)
	}
	return c.ClassifyTransport(err)
}
