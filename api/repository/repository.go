package repository

import (
	"context"
	"errors"

	"mediaPipeline/api/models"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrAssetNotFound = errors.New("asset not found")
)

// Repository owns the canonical copy of every asset and task. Callers only
// ever receive copies; mutations go through full-record replaces.
type Repository interface {
	CreateAsset(ctx context.Context, asset *models.VideoAsset) error
	GetAsset(ctx context.Context, id string) (*models.VideoAsset, error)
	ListAssets(ctx context.Context) ([]models.VideoAsset, error)

	// CreateTasks writes all tasks or none. It fails with ErrAssetNotFound
	// when any task references an unknown asset.
	CreateTasks(ctx context.Context, tasks []models.ProcessingTask) error
	GetTask(ctx context.Context, id string) (*models.ProcessingTask, error)
	// ListTasks returns tasks in insertion order.
	ListTasks(ctx context.Context) ([]models.ProcessingTask, error)
	UpdateTask(ctx context.Context, task models.ProcessingTask) error
	// UpdateTasks replaces every given task atomically.
	UpdateTasks(ctx context.Context, tasks []models.ProcessingTask) error

	Clear(ctx context.Context) error
	Close() error
}
