package streamer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/internal/adapters/providers"
	"github.com/omniquery/fanout-api/internal/analytics"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/retry"
	"github.com/omniquery/fanout-api/internal/store/model"
)

// SnapshotSource supplies the provider/model snapshot used for
// resolution. Satisfied by *configcache.Cache.
type SnapshotSource interface {
	Get(ctx context.Context) *domain.ConfigSnapshot
}

// Streamer resolves one provider for a streaming request and normalizes
// its event stream: chunks are re-indexed from zero, total output length
// is accumulated, and a terminal done event is appended on clean close.
type Streamer struct {
	cache    SnapshotSource
	adapters map[string]providers.Adapter
	engine   *retry.Engine
	policy   retry.Policy
	logger   *zap.Logger
	ingestor analytics.Ingestor
}

func New(cache SnapshotSource, adapters map[string]providers.Adapter, engine *retry.Engine, policy retry.Policy, logger *zap.Logger, ingestor analytics.Ingestor) *Streamer {
	if ingestor == nil {
		ingestor = analytics.Nop()
	}
	return &Streamer{
		cache:    cache,
		adapters: adapters,
		engine:   engine,
		policy:   policy,
		logger:   logger,
		ingestor: ingestor,
	}
}

// Stream opens a normalized event stream against a single provider. An
// explicitly requested provider that cannot serve fails the call rather
// than silently falling back to another one; with no explicit provider
// the first callable one is used.
func (s *Streamer) Stream(ctx context.Context, spec *domain.RequestSpec) (<-chan domain.StreamEvent, error) {
	snap := s.cache.Get(ctx)

	sel, blocked := s.resolve(snap, spec)
	if sel == nil {
		return nil, &domain.NoProvidersError{Blocked: blocked}
	}

	req := &domain.CompletionRequest{
		Prompt:         spec.Prompt,
		Attachments:    spec.Attachments,
		Model:          sel.model.ModelID,
		MaxTokens:      spec.MaxTokens,
		ModelMaxTokens: tokenCap(sel.cfg, sel.model),
		Temperature:    sel.cfg.Temperature,
	}

	start := time.Now()

	// Only the connect phase is retried. Once the upstream channel is
	// open, failures arrive as terminal error events instead.
	upstream, err := retry.Do(ctx, s.engine, sel.provider, s.policy,
		func(ctx context.Context) (<-chan domain.StreamEvent, error) {
			return sel.adapter.StreamComplete(ctx, req)
		},
		func(status string) {
			s.logger.Info("stream connect retry",
				zap.String("provider", sel.provider),
				zap.String("status", status))
		})
	if err != nil {
		s.record(sel, domain.StatusError, err, time.Since(start), 0)
		return nil, err
	}

	out := make(chan domain.StreamEvent, 1)
	go s.relay(ctx, sel, upstream, out, start)
	return out, nil
}

type selection struct {
	provider string
	cfg      domain.ProviderConfig
	model    domain.ModelConfig
	adapter  providers.Adapter
}

func (s *Streamer) resolve(snap *domain.ConfigSnapshot, spec *domain.RequestSpec) (*selection, []domain.BlockedProvider) {
	candidates := spec.Providers
	if len(candidates) > 0 {
		candidates = candidates[:1]
	} else {
		candidates = snap.CallableProviders()
	}

	var blocked []domain.BlockedProvider
	for _, id := range candidates {
		cfg, known := snap.Providers[id]
		if !known {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "unknown provider"})
			continue
		}
		adapter, wired := s.adapters[id]
		if !wired {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "no adapter configured"})
			continue
		}
		if !snap.Callable(id) {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "provider has no active models"})
			continue
		}
		mdl, ok := snap.ModelFor(id, spec.Model)
		if !ok {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "no usable model"})
			continue
		}
		return &selection{provider: id, cfg: cfg, model: mdl, adapter: adapter}, nil
	}
	if len(blocked) == 0 {
		blocked = append(blocked, domain.BlockedProvider{Provider: "", Reason: "no callable providers"})
	}
	return nil, blocked
}

// relay forwards upstream events one at a time, rewriting chunk indexes
// so the caller always sees 0..n regardless of upstream numbering. A
// clean upstream close is completed with a done event; an error event is
// terminal and suppresses the done marker.
func (s *Streamer) relay(ctx context.Context, sel *selection, upstream <-chan domain.StreamEvent, out chan<- domain.StreamEvent, start time.Time) {
	defer close(out)

	var (
		nextIndex int
		total     int
		streamErr *domain.ErrorRecord
	)

	for ev := range upstream {
		switch ev.Type {
		case domain.EventChunk:
			ev.Index = nextIndex
			nextIndex++
			total += len(ev.Text)
		case domain.EventError:
			streamErr = ev.Err
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			s.record(sel, domain.StatusError, ctx.Err(), time.Since(start), total)
			return
		}

		if ev.Type == domain.EventError {
			s.record(sel, domain.StatusError, streamErr, time.Since(start), total)
			return
		}
	}

	select {
	case out <- domain.DoneEvent(total):
	case <-ctx.Done():
	}
	s.record(sel, domain.StatusSuccess, nil, time.Since(start), total)
}

func tokenCap(cfg domain.ProviderConfig, mdl domain.ModelConfig) int {
	limit := mdl.MaxOutputTokens
	if cfg.MaxOutputCap > 0 && (limit <= 0 || cfg.MaxOutputCap < limit) {
		limit = cfg.MaxOutputCap
	}
	return limit
}

func (s *Streamer) record(sel *selection, status domain.ResultStatus, err error, elapsed time.Duration, outputLen int) {
	log := &model.RequestLog{
		ID:         uuid.New().String(),
		ProviderID: sel.provider,
		ModelID:    sel.model.ModelID,
		Status:     string(status),
		LatencyMS:  elapsed.Milliseconds(),
		IsStreamed: true,
		OutputLen:  outputLen,
		CreatedAt:  time.Now(),
	}
	if rec, ok := err.(*domain.ErrorRecord); ok && rec != nil {
		log.ErrorKind = string(rec.Kind)
	}
	s.ingestor.Log(log)
}
