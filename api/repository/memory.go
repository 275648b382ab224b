package repository

import (
	"context"
	"sync"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/models"
)

type MemoryRepo struct {
	mu     sync.RWMutex
	seq    int64
	assets map[string]models.VideoAsset
	tasks  map[string]models.ProcessingTask
	order  []string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		assets: make(map[string]models.VideoAsset),
		tasks:  make(map[string]models.ProcessingTask),
	}
}

func (r *MemoryRepo) CreateAsset(ctx context.Context, asset *models.VideoAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	asset.Seq = r.seq
	r.assets[asset.ID] = *asset
	return nil
}

func (r *MemoryRepo) GetAsset(ctx context.Context, id string) (*models.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, apperrors.NotFound("get_asset", id, ErrAssetNotFound)
	}
	return &asset, nil
}

func (r *MemoryRepo) ListAssets(ctx context.Context) ([]models.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]models.VideoAsset, 0, len(r.assets))
	for _, a := range r.assets {
		assets = append(assets, a)
	}
	return assets, nil
}

func (r *MemoryRepo) CreateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tasks {
		if _, ok := r.assets[t.AssetID]; !ok {
			return apperrors.NotFound("create_tasks", t.AssetID, ErrAssetNotFound)
		}
	}

	for i := range tasks {
		r.seq++
		tasks[i].Seq = r.seq
		r.tasks[tasks[i].ID] = tasks[i].Clone()
		r.order = append(r.order, tasks[i].ID)
	}
	return nil
}

func (r *MemoryRepo) GetTask(ctx context.Context, id string) (*models.ProcessingTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("get_task", id, ErrTaskNotFound)
	}
	c := t.Clone()
	return &c, nil
}

func (r *MemoryRepo) ListTasks(ctx context.Context) ([]models.ProcessingTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]models.ProcessingTask, 0, len(r.order))
	for _, id := range r.order {
		tasks = append(tasks, r.tasks[id].Clone())
	}
	return tasks, nil
}

func (r *MemoryRepo) UpdateTask(ctx context.Context, task models.ProcessingTask) error {
	return r.UpdateTasks(ctx, []models.ProcessingTask{task})
}

func (r *MemoryRepo) UpdateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tasks {
		if _, ok := r.tasks[t.ID]; !ok {
			return apperrors.NotFound("update_task", t.ID, ErrTaskNotFound)
		}
	}
	for _, t := range tasks {
		t.Seq = r.tasks[t.ID].Seq
		r.tasks[t.ID] = t.Clone()
	}
	return nil
}

func (r *MemoryRepo) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assets = make(map[string]models.VideoAsset)
	r.tasks = make(map[string]models.ProcessingTask)
	r.order = nil
	return nil
}

func (r *MemoryRepo) Close() error {
	return nil
}
