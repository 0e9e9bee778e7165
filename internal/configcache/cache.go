package configcache

import (
	"context"
	"sync"
	"time"

	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/store"
	"go.uber.org/zap"
)

const DefaultTTL = 5 * time.Minute

// Cache is the single source of truth for provider enablement and output
// caps. It serves an immutable snapshot, refreshing it from the store when
// the TTL lapses. A failed refresh keeps serving the stale snapshot; a
// refresh already in flight is never duplicated; concurrent callers get
// the pre-refresh snapshot instead of waiting.
type Cache struct {
	repo     store.Repository
	logger   *zap.Logger
	ttl      time.Duration
	fallback *domain.ConfigSnapshot

	mu         sync.Mutex
	snapshot   *domain.ConfigSnapshot
	refreshing bool

	now func() time.Time
}

// New builds a cache. fallback is served until the first successful fetch
// so the system stays usable with the store unreachable.
func New(repo store.Repository, logger *zap.Logger, ttl time.Duration, fallback *domain.ConfigSnapshot) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		repo:     repo,
		logger:   logger,
		ttl:      ttl,
		fallback: fallback,
		now:      time.Now,
	}
}

// Get returns the current snapshot, refreshing first if the TTL has lapsed
// and no other refresh is running.
func (c *Cache) Get(ctx context.Context) *domain.ConfigSnapshot {
	c.mu.Lock()
	current := c.snapshot
	fresh := current != nil && c.now().Sub(current.FetchedAt) < c.ttl
	if fresh || c.refreshing {
		c.mu.Unlock()
		return c.serve(current)
	}
	c.refreshing = true
	c.mu.Unlock()

	next, err := c.fetch(ctx)

	c.mu.Lock()
	c.refreshing = false
	if err != nil {
		c.logger.Warn("config refresh failed, serving stale snapshot", zap.Error(err))
	} else {
		c.snapshot = next
	}
	current = c.snapshot
	c.mu.Unlock()

	return c.serve(current)
}

// Age reports how old the served snapshot is. Zero when still on the
// built-in fallback.
func (c *Cache) Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return 0
	}
	return c.now().Sub(c.snapshot.FetchedAt)
}

func (c *Cache) serve(snap *domain.ConfigSnapshot) *domain.ConfigSnapshot {
	if snap != nil {
		return snap
	}
	return c.fallback
}

// fetch loads providers and models in parallel. The snapshot is only built
// when both succeed, so callers never see providers from one fetch mixed
// with models from another.
func (c *Cache) fetch(ctx context.Context) (*domain.ConfigSnapshot, error) {
	var (
		wg        sync.WaitGroup
		provs     []domain.ProviderConfig
		models    []domain.ModelConfig
		provErr   error
		modelsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		rows, err := c.repo.Providers().List(ctx)
		if err != nil {
			provErr = err
			return
		}
		for _, r := range rows {
			provs = append(provs, r.ToDomain())
		}
	}()
	go func() {
		defer wg.Done()
		rows, err := c.repo.Models().List(ctx)
		if err != nil {
			modelsErr = err
			return
		}
		for _, r := range rows {
			models = append(models, r.ToDomain())
		}
	}()
	wg.Wait()

	if provErr != nil {
		return nil, provErr
	}
	if modelsErr != nil {
		return nil, modelsErr
	}

	snap := &domain.ConfigSnapshot{
		Providers: make(map[string]domain.ProviderConfig, len(provs)),
		Models:    models,
		FetchedAt: c.now(),
	}
	for _, p := range provs {
		snap.Providers[p.ID] = p
	}
	return snap, nil
}
