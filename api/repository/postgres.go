package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/database"
	"mediaPipeline/api/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id          TEXT PRIMARY KEY,
	seq         BIGSERIAL,
	filename    TEXT NOT NULL,
	size_bytes  BIGINT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	seq           BIGSERIAL,
	asset_id      TEXT NOT NULL,
	container     TEXT NOT NULL,
	profile       TEXT NOT NULL,
	status        TEXT NOT NULL,
	progress      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT '',
	output_url    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS tasks_asset_id_idx ON tasks (asset_id);
`

const taskColumns = `id, asset_id, container, profile, status, progress, created_at, started_at, completed_at, error_message, output_url, seq`

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepo) CreateAsset(ctx context.Context, asset *models.VideoAsset) error {
	query := `
		INSERT INTO assets (id, filename, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING seq
	`
	return r.db.Pool.QueryRow(ctx, query,
		asset.ID,
		asset.Filename,
		asset.SizeBytes,
		asset.UploadedAt,
	).Scan(&asset.Seq)
}

func (r *PostgresRepo) GetAsset(ctx context.Context, id string) (*models.VideoAsset, error) {
	query := `SELECT id, filename, size_bytes, uploaded_at, seq FROM assets WHERE id = $1`

	var a models.VideoAsset
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&a.ID, &a.Filename, &a.SizeBytes, &a.UploadedAt, &a.Seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("get_asset", id, ErrAssetNotFound)
		}
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepo) ListAssets(ctx context.Context) ([]models.VideoAsset, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, filename, size_bytes, uploaded_at, seq FROM assets ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []models.VideoAsset
	for rows.Next() {
		var a models.VideoAsset
		if err := rows.Scan(&a.ID, &a.Filename, &a.SizeBytes, &a.UploadedAt, &a.Seq); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *PostgresRepo) CreateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		checked := make(map[string]bool)
		for _, t := range tasks {
			if checked[t.AssetID] {
				continue
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE id = $1)`, t.AssetID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return apperrors.NotFound("create_tasks", t.AssetID, ErrAssetNotFound)
			}
			checked[t.AssetID] = true
		}

		query := `
			INSERT INTO tasks (id, asset_id, container, profile, status, progress, created_at, started_at, completed_at, error_message, output_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING seq
		`
		for i := range tasks {
			t := &tasks[i]
			err := tx.QueryRow(ctx, query,
				t.ID, t.AssetID, string(t.Container), string(t.Profile), string(t.Status), t.Progress,
				t.CreatedAt, t.StartedAt, t.CompletedAt, t.Error, t.OutputURL,
			).Scan(&t.Seq)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) GetTask(ctx context.Context, id string) (*models.ProcessingTask, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("get_task", id, ErrTaskNotFound)
		}
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepo) ListTasks(ctx context.Context) ([]models.ProcessingTask, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.ProcessingTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepo) UpdateTask(ctx context.Context, task models.ProcessingTask) error {
	return r.UpdateTasks(ctx, []models.ProcessingTask{task})
}

func (r *PostgresRepo) UpdateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	query := `
		UPDATE tasks
		SET status = $1, progress = $2, created_at = $3, started_at = $4,
		    completed_at = $5, error_message = $6, output_url = $7
		WHERE id = $8
	`
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		for _, t := range tasks {
			result, err := tx.Exec(ctx, query,
				string(t.Status), t.Progress, t.CreatedAt, t.StartedAt,
				t.CompletedAt, t.Error, t.OutputURL, t.ID,
			)
			if err != nil {
				return err
			}
			if result.RowsAffected() == 0 {
				return apperrors.NotFound("update_task", t.ID, ErrTaskNotFound)
			}
		}
		return nil
	})
}

func (r *PostgresRepo) Clear(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `TRUNCATE TABLE tasks, assets`)
	return err
}

func (r *PostgresRepo) Close() error {
	r.db.Close()
	return nil
}

func scanTask(row pgx.Row) (*models.ProcessingTask, error) {
	var (
		t                          models.ProcessingTask
		container, profile, status string
	)
	err := row.Scan(
		&t.ID,
		&t.AssetID,
		&container,
		&profile,
		&status,
		&t.Progress,
		&t.CreatedAt,
		&t.StartedAt,
		&t.CompletedAt,
		&t.Error,
		&t.OutputURL,
		&t.Seq,
	)
	if err != nil {
		return nil, err
	}
	t.Container = models.Container(container)
	t.Profile = models.Profile(profile)
	t.Status = models.TaskStatus(status)
	return &t, nil
}
