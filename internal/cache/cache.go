package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired. A miss
// is a normal condition; callers fall through to the real work.
var ErrMiss = errors.New("cache: miss")

// CacheService is the short-TTL response cache behind the aggregate
// endpoint. Implementations marshal values for the caller.
type CacheService interface {
	// Get retrieves a value and unmarshals it into dest.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value under key for ttl.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
