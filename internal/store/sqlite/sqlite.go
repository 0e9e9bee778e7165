package sqlite

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/omniquery/fanout-api/internal/store"
	"github.com/omniquery/fanout-api/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB
// and *sqlx.Tx).
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db *sqlx.DB
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{db: db}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) Providers() store.ProviderRepository {
	return &providerRepo{db: r.db}
}

func (r *SqliteRepository) Models() store.ModelRepository {
	return &modelRepo{db: r.db}
}

func (r *SqliteRepository) Requests() store.RequestRepository {
	return &requestRepo{db: r.db}
}

type providerRepo struct {
	db DB
}

func (r *providerRepo) List(ctx context.Context) ([]model.ProviderRow, error) {
	var rows []model.ProviderRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM providers ORDER BY id`)
	return rows, err
}

func (r *providerRepo) Upsert(ctx context.Context, row *model.ProviderRow) error {
	query := `
	INSERT INTO providers (id, enabled, default_model, max_output_cap, timeout_seconds, temperature, created_at, updated_at)
	VALUES (:id, :enabled, :default_model, :max_output_cap, :timeout_seconds, :temperature, :created_at, :updated_at)
	ON CONFLICT(id) DO UPDATE SET
		enabled = excluded.enabled,
		default_model = excluded.default_model,
		max_output_cap = excluded.max_output_cap,
		timeout_seconds = excluded.timeout_seconds,
		temperature = excluded.temperature,
		updated_at = excluded.updated_at`
	_, err := r.db.NamedExecContext(ctx, query, row)
	return err
}

type modelRepo struct {
	db DB
}

func (r *modelRepo) List(ctx context.Context) ([]model.ModelRow, error) {
	var rows []model.ModelRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM models ORDER BY provider_id, model_id`)
	return rows, err
}

func (r *modelRepo) Upsert(ctx context.Context, row *model.ModelRow) error {
	query := `
	INSERT INTO models (provider_id, model_id, is_active, max_output_tokens, context_window, created_at, updated_at)
	VALUES (:provider_id, :model_id, :is_active, :max_output_tokens, :context_window, :created_at, :updated_at)
	ON CONFLICT(provider_id, model_id) DO UPDATE SET
		is_active = excluded.is_active,
		max_output_tokens = excluded.max_output_tokens,
		context_window = excluded.context_window,
		updated_at = excluded.updated_at`
	_, err := r.db.NamedExecContext(ctx, query, row)
	return err
}

type requestRepo struct {
	db DB
}

func (r *requestRepo) Log(ctx context.Context, log *model.RequestLog) error {
	query := `
	INSERT INTO request_logs (id, provider_id, model_id, status, error_kind, latency_ms, is_streamed, output_len, created_at)
	VALUES (:id, :provider_id, :model_id, :status, :error_kind, :latency_ms, :is_streamed, :output_len, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, log)
	return err
}

func (r *requestRepo) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	var logs []model.RequestLog
	err := r.db.SelectContext(ctx, &logs, `SELECT * FROM request_logs ORDER BY created_at DESC LIMIT ?`, limit)
	return logs, err
}
