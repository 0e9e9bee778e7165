package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniquery/fanout-api/internal/cache"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", payload{Name: "alpha", Count: 3}, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, payload{Name: "alpha", Count: 3}, got)
}

func TestMemoryCacheMissAndExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "absent", &got), cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "short", payload{Name: "x"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	assert.ErrorIs(t, c.Get(ctx, "short", &got), cache.ErrMiss)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", payload{Name: "alpha"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "k", &got), cache.ErrMiss)
	// Deleting again is still fine.
	assert.NoError(t, c.Delete(ctx, "k"))
}
