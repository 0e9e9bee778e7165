package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omniquery/fanout-api/internal/adapters/providers"
	"github.com/omniquery/fanout-api/internal/analytics"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/retry"
	"github.com/omniquery/fanout-api/internal/store/model"
	"go.uber.org/zap"
)

const defaultTimeout = 60 * time.Second

// SnapshotSource supplies the provider/model snapshot used for
// resolution. Satisfied by *configcache.Cache.
type SnapshotSource interface {
	Get(ctx context.Context) *domain.ConfigSnapshot
}

// Orchestrator fans one request out to every selected provider
// concurrently and collects per-provider outcomes. One provider's failure
// never cancels or blocks the others.
type Orchestrator struct {
	cache    SnapshotSource
	adapters map[string]providers.Adapter
	engine   *retry.Engine
	policy   retry.Policy
	logger   *zap.Logger
	ingestor analytics.Ingestor
}

func New(cache SnapshotSource, adapters map[string]providers.Adapter, engine *retry.Engine, policy retry.Policy, logger *zap.Logger, ingestor analytics.Ingestor) *Orchestrator {
	if ingestor == nil {
		ingestor = analytics.Nop()
	}
	return &Orchestrator{
		cache:    cache,
		adapters: adapters,
		engine:   engine,
		policy:   policy,
		logger:   logger,
		ingestor: ingestor,
	}
}

type selection struct {
	provider string
	cfg      domain.ProviderConfig
	model    domain.ModelConfig
	adapter  providers.Adapter
}

// Resolve maps the request's provider set against the current snapshot.
// Dropped providers come back with the reason they were dropped.
func (o *Orchestrator) Resolve(snap *domain.ConfigSnapshot, spec *domain.RequestSpec) ([]selection, []domain.BlockedProvider) {
	requested := spec.Providers
	if len(requested) == 0 {
		requested = snap.CallableProviders()
	}

	var selected []selection
	var blocked []domain.BlockedProvider

	for _, id := range requested {
		cfg, known := snap.Providers[id]
		if !known {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "unknown provider"})
			continue
		}
		adapter, wired := o.adapters[id]
		if !wired {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "no adapter configured"})
			continue
		}
		if !snap.Callable(id) {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "provider has no active models"})
			continue
		}
		mdl, ok := snap.ModelFor(id, "")
		if !ok {
			blocked = append(blocked, domain.BlockedProvider{Provider: id, Reason: "no usable model"})
			continue
		}
		selected = append(selected, selection{provider: id, cfg: cfg, model: mdl, adapter: adapter})
	}

	return selected, blocked
}

// Aggregate runs the fan-out. The returned slice has exactly one entry per
// selected provider, in request order regardless of completion order. The
// blocked slice records providers that were dropped during resolution.
func (o *Orchestrator) Aggregate(ctx context.Context, spec *domain.RequestSpec) ([]domain.ProviderResult, []domain.BlockedProvider, error) {
	snap := o.cache.Get(ctx)

	selected, blocked := o.Resolve(snap, spec)
	if len(selected) == 0 {
		return nil, nil, &domain.NoProvidersError{Blocked: blocked}
	}

	results := make([]domain.ProviderResult, len(selected))
	var wg sync.WaitGroup

	for i, sel := range selected {
		wg.Add(1)
		go func(i int, sel selection) {
			defer wg.Done()
			results[i] = o.callOne(ctx, sel, spec)
		}(i, sel)
	}
	wg.Wait()

	return results, blocked, nil
}

func (o *Orchestrator) callOne(ctx context.Context, sel selection, spec *domain.RequestSpec) domain.ProviderResult {
	timeout := defaultTimeout
	if sel.cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(sel.cfg.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &domain.CompletionRequest{
		Prompt:         spec.Prompt,
		Attachments:    spec.Attachments,
		Model:          sel.model.ModelID,
		MaxTokens:      spec.MaxTokens,
		ModelMaxTokens: effectiveCap(sel.cfg, sel.model),
		Temperature:    sel.cfg.Temperature,
	}

	start := time.Now()
	completion, err := retry.Do(callCtx, o.engine, sel.provider, o.policy,
		func(ctx context.Context) (*domain.Completion, error) {
			return sel.adapter.Complete(ctx, req)
		},
		func(status string) {
			o.logger.Info("provider retry", zap.String("status", status))
		})
	latency := time.Since(start).Milliseconds()

	result := domain.ProviderResult{
		Provider:  sel.provider,
		Model:     sel.model.ModelID,
		LatencyMs: latency,
	}

	if err != nil {
		result.Status = domain.StatusError
		result.Error = toRecord(err, sel.provider)
	} else {
		result.Status = domain.StatusSuccess
		result.Content = &completion.Content
	}

	o.record(result, false)
	return result
}

// toRecord normalizes any failure into an ErrorRecord. Hitting the
// per-call deadline counts as a retryable timeout rather than a thrown
// error.
func toRecord(err error, provider string) *domain.ErrorRecord {
	var rec *domain.ErrorRecord
	if errors.As(err, &rec) {
		return rec
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrorRecord{
			Kind:       domain.KindTimeout,
			Retryable:  true,
			RawMessage: "provider call exceeded its deadline",
			Provider:   provider,
		}
	}
	return &domain.ErrorRecord{
		Kind:       domain.KindUnknown,
		RawMessage: err.Error(),
		Provider:   provider,
	}
}

func effectiveCap(cfg domain.ProviderConfig, mdl domain.ModelConfig) int {
	limit := mdl.MaxOutputTokens
	if cfg.MaxOutputCap > 0 && (limit <= 0 || cfg.MaxOutputCap < limit) {
		limit = cfg.MaxOutputCap
	}
	return limit
}

func (o *Orchestrator) record(res domain.ProviderResult, streamed bool) {
	log := &model.RequestLog{
		ID:         uuid.New().String(),
		ProviderID: res.Provider,
		ModelID:    res.Model,
		Status:     string(res.Status),
		LatencyMS:  res.LatencyMs,
		IsStreamed: streamed,
		CreatedAt:  time.Now(),
	}
	if res.Error != nil {
		log.ErrorKind = string(res.Error.Kind)
	}
	if res.Content != nil {
		log.OutputLen = len(*res.Content)
	}
	o.ingestor.Log(log)
}

// Describe renders a blocked list into the detail line used by the 403
// response.
func Describe(blocked []domain.BlockedProvider) string {
	if len(blocked) == 0 {
		return "no providers requested and none enabled"
	}
	return fmt.Sprintf("all %d requested providers are blocked", len(blocked))
}
