package store

import (
	"context"

	"github.com/omniquery/fanout-api/internal/store/model"
)

// Repository is the main contract for the config store and request logs.
type Repository interface {
	Providers() ProviderRepository
	Models() ModelRepository
	Requests() RequestRepository

	Close() error
}

// ProviderRepository reads provider enablement and limits. Idempotent;
// the config cache is the only caller.
type ProviderRepository interface {
	List(ctx context.Context) ([]model.ProviderRow, error)
	Upsert(ctx context.Context, row *model.ProviderRow) error
}

// ModelRepository reads per-model activation and caps.
type ModelRepository interface {
	List(ctx context.Context) ([]model.ModelRow, error)
	Upsert(ctx context.Context, row *model.ModelRow) error
}

// RequestRepository persists completed request outcomes.
type RequestRepository interface {
	Log(ctx context.Context, log *model.RequestLog) error
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
}
