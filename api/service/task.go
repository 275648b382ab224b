package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/clock"
	"mediaPipeline/api/dto"
	"mediaPipeline/api/models"
	"mediaPipeline/api/registry"
	"mediaPipeline/api/scheduler"
	"mediaPipeline/api/validation"
)

const timeLayout = time.RFC3339Nano

// Latency adds a bounded, cancellable delay to each operation to mimic a
// remote backend. Zero values disable it.
type Latency struct {
	Upload   time.Duration
	Submit   time.Duration
	Snapshot time.Duration
	Retry    time.Duration
	Reset    time.Duration
}

func DefaultLatency() Latency {
	return Latency{
		Upload:   800 * time.Millisecond,
		Submit:   300 * time.Millisecond,
		Snapshot: 200 * time.Millisecond,
		Retry:    200 * time.Millisecond,
		Reset:    500 * time.Millisecond,
	}
}

type TaskService struct {
	engine   *scheduler.Engine
	registry *registry.Registry
	clock    clock.Clock
	latency  Latency
	logger   *zap.Logger
}

func NewTaskService(engine *scheduler.Engine, registry *registry.Registry, clk clock.Clock, latency Latency, logger *zap.Logger) *TaskService {
	return &TaskService{
		engine:   engine,
		registry: registry,
		clock:    clk,
		latency:  latency,
		logger:   logger,
	}
}

func (s *TaskService) RegisterAsset(ctx context.Context, filename string, sizeBytes int64) (*dto.AssetResponse, error) {
	if err := wait(ctx, s.latency.Upload); err != nil {
		return nil, err
	}

	asset, err := s.registry.Register(ctx, filename, sizeBytes, s.clock.Now())
	if err != nil {
		return nil, err
	}
	resp := toAssetResponse(*asset)
	return &resp, nil
}

func (s *TaskService) ListAssets(ctx context.Context) ([]dto.AssetResponse, error) {
	assets, err := s.registry.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dto.AssetResponse, 0, len(assets))
	for _, a := range assets {
		out = append(out, toAssetResponse(a))
	}
	return out, nil
}

func (s *TaskService) SubmitJob(ctx context.Context, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
	variants := make([]models.Variant, 0, len(req.Variants))
	for _, v := range req.Variants {
		container, ok := models.ParseContainer(v.Container)
		if !ok {
			return nil, apperrors.Validation("submit_job",
				fmt.Errorf("%w: container %q", validation.ErrUnsupportedVariant, v.Container))
		}
		profile, ok := models.ParseProfile(v.Profile)
		if !ok {
			return nil, apperrors.Validation("submit_job",
				fmt.Errorf("%w: profile %q", validation.ErrUnsupportedVariant, v.Profile))
		}
		variants = append(variants, models.Variant{Container: container, Profile: profile})
	}

	if err := wait(ctx, s.latency.Submit); err != nil {
		return nil, err
	}

	tasks, err := s.engine.Submit(ctx, req.AssetID, variants, s.clock.Now())
	if err != nil {
		return nil, err
	}

	resp := &dto.SubmitJobResponse{
		AssetID: req.AssetID,
		TaskIDs: make([]string, 0, len(tasks)),
		Tasks:   make([]dto.TaskResponse, 0, len(tasks)),
	}
	for _, t := range tasks {
		resp.TaskIDs = append(resp.TaskIDs, t.ID)
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	return resp, nil
}

func (s *TaskService) RetryTask(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	task, err := s.engine.Retry(ctx, taskID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, s.latency.Retry); err != nil {
		return nil, err
	}
	resp := toTaskResponse(task)
	return &resp, nil
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	task, err := s.engine.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	resp := toTaskResponse(*task)
	return &resp, nil
}

// GetSnapshot advances the scheduler to now and returns everything it holds,
// read atomically with the tick.
func (s *TaskService) GetSnapshot(ctx context.Context) (*dto.SnapshotResponse, error) {
	snap, err := s.engine.Observe(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := wait(ctx, s.latency.Snapshot); err != nil {
		return nil, err
	}

	registry.SortNewestFirst(snap.Assets)
	resp := &dto.SnapshotResponse{
		Assets: make([]dto.AssetResponse, 0, len(snap.Assets)),
		Tasks:  make([]dto.TaskResponse, 0, len(snap.Tasks)),
		Stats:  models.CountByStatus(snap.Tasks),
	}
	for _, a := range snap.Assets {
		resp.Assets = append(resp.Assets, toAssetResponse(a))
	}
	for _, t := range snap.Tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	return resp, nil
}

// Metrics reports current task counts and cumulative scheduler counters
// without advancing the scheduler.
func (s *TaskService) Metrics(ctx context.Context) (*dto.MetricsResponse, error) {
	tasks, err := s.engine.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	c := s.engine.Counters()
	return &dto.MetricsResponse{
		Tasks:      models.CountByStatus(tasks),
		Ticks:      c.Ticks,
		Skipped:    c.Skipped,
		Started:    c.Started,
		Progressed: c.Progressed,
		Completed:  c.Completed,
		Failed:     c.Failed,
	}, nil
}

func (s *TaskService) Reset(ctx context.Context) error {
	if err := s.engine.Reset(ctx); err != nil {
		return err
	}
	return wait(ctx, s.latency.Reset)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toAssetResponse(a models.VideoAsset) dto.AssetResponse {
	return dto.AssetResponse{
		ID:         a.ID,
		Filename:   a.Filename,
		SizeBytes:  a.SizeBytes,
		UploadedAt: a.UploadedAt.UTC().Format(timeLayout),
	}
}

func toTaskResponse(t models.ProcessingTask) dto.TaskResponse {
	return dto.TaskResponse{
		ID:             t.ID,
		AssetID:        t.AssetID,
		Container:      string(t.Container),
		ContainerLabel: models.ContainerDetails[t.Container],
		Profile:        string(t.Profile),
		ProfileLabel:   models.ProfileDetails[t.Profile],
		Status:         string(t.Status),
		Progress:       t.Progress,
		CreatedAt:      t.CreatedAt.UTC().Format(timeLayout),
		StartedAt:      formatOptional(t.StartedAt),
		CompletedAt:    formatOptional(t.CompletedAt),
		Error:          t.Error,
		OutputURL:      t.OutputURL,
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(timeLayout)
	return &formatted
}
