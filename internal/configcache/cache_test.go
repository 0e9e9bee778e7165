package configcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/store"
	"github.com/omniquery/fanout-api/internal/store/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo counts fetches and can be told to fail.
type fakeRepo struct {
	mu        sync.Mutex
	failing   bool
	fetches   int32
	providers []model.ProviderRow
	models    []model.ModelRow
	block     chan struct{} // when set, List blocks until closed
}

func (f *fakeRepo) Providers() store.ProviderRepository { return &fakeProviderRepo{f} }
func (f *fakeRepo) Models() store.ModelRepository       { return &fakeModelRepo{f} }
func (f *fakeRepo) Requests() store.RequestRepository   { return nil }
func (f *fakeRepo) Close() error                        { return nil }

type fakeProviderRepo struct{ r *fakeRepo }

func (p *fakeProviderRepo) List(ctx context.Context) ([]model.ProviderRow, error) {
	atomic.AddInt32(&p.r.fetches, 1)
	if p.r.block != nil {
		<-p.r.block
	}
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	if p.r.failing {
		return nil, errors.New("store unreachable")
	}
	return p.r.providers, nil
}
func (p *fakeProviderRepo) Upsert(ctx context.Context, row *model.ProviderRow) error { return nil }

type fakeModelRepo struct{ r *fakeRepo }

func (m *fakeModelRepo) List(ctx context.Context) ([]model.ModelRow, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	if m.r.failing {
		return nil, errors.New("store unreachable")
	}
	return m.r.models, nil
}
func (m *fakeModelRepo) Upsert(ctx context.Context, row *model.ModelRow) error { return nil }

func seededRepo() *fakeRepo {
	return &fakeRepo{
		providers: []model.ProviderRow{
			{ID: "openai-main", Enabled: true, DefaultModel: "gpt-4o-mini", MaxOutputCap: 4096, TimeoutSeconds: 60},
		},
		models: []model.ModelRow{
			{ProviderID: "openai-main", ModelID: "gpt-4o-mini", IsActive: true, MaxOutputTokens: 4096},
		},
	}
}

func fallbackSnapshot() *domain.ConfigSnapshot {
	return &domain.ConfigSnapshot{
		Providers: map[string]domain.ProviderConfig{
			"builtin": {ID: "builtin", Enabled: true, TimeoutSeconds: 60},
		},
		Models: []domain.ModelConfig{
			{Provider: "builtin", ModelID: "default", IsActive: true},
		},
	}
}

func TestGet_CachesWithinTTL(t *testing.T) {
	repo := seededRepo()
	c := New(repo, zap.NewNop(), 5*time.Minute, fallbackSnapshot())

	snap := c.Get(context.Background())
	require.Contains(t, snap.Providers, "openai-main")
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.fetches))

	// Second call inside the TTL: zero additional fetches.
	again := c.Get(context.Background())
	assert.Same(t, snap, again)
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.fetches))
}

func TestGet_RefreshesAfterTTL(t *testing.T) {
	repo := seededRepo()
	c := New(repo, zap.NewNop(), 5*time.Minute, fallbackSnapshot())

	now := time.Now()
	c.now = func() time.Time { return now }

	first := c.Get(context.Background())
	now = now.Add(6 * time.Minute)
	second := c.Get(context.Background())

	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.fetches))
}

func TestGet_ServesStaleOnRefreshFailure(t *testing.T) {
	repo := seededRepo()
	c := New(repo, zap.NewNop(), 5*time.Minute, fallbackSnapshot())

	now := time.Now()
	c.now = func() time.Time { return now }

	first := c.Get(context.Background())
	require.Contains(t, first.Providers, "openai-main")

	repo.mu.Lock()
	repo.failing = true
	repo.mu.Unlock()

	now = now.Add(6 * time.Minute)
	stale := c.Get(context.Background())
	assert.Same(t, first, stale)
}

func TestGet_FallbackBeforeFirstSuccess(t *testing.T) {
	repo := seededRepo()
	repo.failing = true
	c := New(repo, zap.NewNop(), 5*time.Minute, fallbackSnapshot())

	snap := c.Get(context.Background())
	require.NotNil(t, snap)
	assert.Contains(t, snap.Providers, "builtin")
}

func TestGet_SingleFlightRefresh(t *testing.T) {
	repo := seededRepo()
	repo.block = make(chan struct{})
	c := New(repo, zap.NewNop(), 5*time.Minute, fallbackSnapshot())

	done := make(chan *domain.ConfigSnapshot)
	go func() { done <- c.Get(context.Background()) }()

	// Wait until the first caller is inside the fetch.
	for atomic.LoadInt32(&repo.fetches) == 0 {
		time.Sleep(time.Millisecond)
	}

	// A second caller during the in-flight refresh gets the pre-refresh
	// view (the fallback) without triggering another fetch.
	snap := c.Get(context.Background())
	assert.Contains(t, snap.Providers, "builtin")
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.fetches))

	close(repo.block)
	fresh := <-done
	assert.Contains(t, fresh.Providers, "openai-main")
}

func TestSnapshot_CallableSemantics(t *testing.T) {
	snap := &domain.ConfigSnapshot{
		Providers: map[string]domain.ProviderConfig{
			// Enabled flag controls visibility only; callability is
			// derived from having at least one active model.
			"visible-no-models": {ID: "visible-no-models", Enabled: true},
			"hidden-with-model": {ID: "hidden-with-model", Enabled: false},
		},
		Models: []domain.ModelConfig{
			{Provider: "hidden-with-model", ModelID: "m1", IsActive: true},
			{Provider: "visible-no-models", ModelID: "m2", IsActive: false},
		},
	}

	assert.False(t, snap.Callable("visible-no-models"))
	assert.True(t, snap.Callable("hidden-with-model"))
	assert.False(t, snap.Callable("never-heard-of-it"))
}
