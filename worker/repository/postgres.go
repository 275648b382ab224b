package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediaPipeline/api/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_transitions (
	id          BIGSERIAL PRIMARY KEY,
	task_id     TEXT        NOT NULL,
	asset_id    TEXT        NOT NULL,
	container   TEXT        NOT NULL,
	profile     TEXT        NOT NULL,
	from_status TEXT        NOT NULL DEFAULT '',
	to_status   TEXT        NOT NULL,
	progress    INTEGER     NOT NULL DEFAULT 0,
	error       TEXT        NOT NULL DEFAULT '',
	output_url  TEXT        NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (task_id, to_status, occurred_at)
);
CREATE INDEX IF NOT EXISTS task_transitions_task_idx ON task_transitions (task_id, occurred_at);
`

type Repository interface {
	RecordTransition(ctx context.Context, event *models.TaskEvent) error
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// RecordTransition appends the event to the audit log. Redelivered events are
// absorbed by the unique constraint.
func (r *PostgresRepo) RecordTransition(ctx context.Context, event *models.TaskEvent) error {
	query := `
		INSERT INTO task_transitions
			(task_id, asset_id, container, profile, from_status, to_status, progress, error, output_url, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id, to_status, occurred_at) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		event.TaskID,
		event.AssetID,
		string(event.Container),
		string(event.Profile),
		string(event.From),
		string(event.To),
		event.Progress,
		event.Error,
		event.OutputURL,
		event.At,
	)
	return err
}
