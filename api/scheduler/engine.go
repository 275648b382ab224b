// Package scheduler advances every task through its lifecycle. All store
// mutations from ticks, submissions, retries and resets run under one lock,
// so no tick ever observes another operation's half-written state. Events are
// published after the lock is released.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/clock"
	"mediaPipeline/api/models"
	"mediaPipeline/api/progress"
	"mediaPipeline/api/repository"
	"mediaPipeline/api/validation"
)

const DefaultQueueDelay = 2 * time.Second

var ErrTaskNotFailed = errors.New("only failed tasks can be retried")

// Publisher receives one event per status change, in the order they were persisted.
type Publisher interface {
	Publish(ctx context.Context, events []models.TaskEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, []models.TaskEvent) error { return nil }

type TickResult struct {
	Evaluated  int
	Started    int
	Progressed int
	Completed  int
	Failed     int
}

func (r TickResult) Changed() int {
	return r.Started + r.Progressed + r.Completed + r.Failed
}

// engineLock is a mutex whose acquisition can be abandoned with a context.
type engineLock chan struct{}

func (l engineLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l engineLock) tryLock() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l engineLock) unlock() { <-l }

// Snapshot is the state read under the engine lock right after a tick.
type Snapshot struct {
	Tasks  []models.ProcessingTask
	Assets []models.VideoAsset
	Result TickResult
}

type Engine struct {
	mu         engineLock
	repo       repository.Repository
	model      *progress.Model
	clock      clock.Clock
	queueDelay time.Duration
	outbox     *outbox
	logger     *zap.Logger

	ticks      atomic.Int64
	skipped    atomic.Int64
	started    atomic.Int64
	progressed atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
}

// Counters are cumulative since the engine was created.
type Counters struct {
	Ticks      int64
	Skipped    int64
	Started    int64
	Progressed int64
	Completed  int64
	Failed     int64
}

func (e *Engine) Counters() Counters {
	return Counters{
		Ticks:      e.ticks.Load(),
		Skipped:    e.skipped.Load(),
		Started:    e.started.Load(),
		Progressed: e.progressed.Load(),
		Completed:  e.completed.Load(),
		Failed:     e.failed.Load(),
	}
}

func NewEngine(repo repository.Repository, model *progress.Model, clk clock.Clock, queueDelay time.Duration, publisher Publisher, logger *zap.Logger) *Engine {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Engine{
		mu:         make(engineLock, 1),
		repo:       repo,
		model:      model,
		clock:      clk,
		queueDelay: queueDelay,
		outbox:     newOutbox(publisher, DefaultOutboxSize, defaultPublishTimeout, logger),
		logger:     logger,
	}
}

// Close waits for queued events to be published. Events emitted afterwards
// are dropped.
func (e *Engine) Close() {
	e.outbox.close()
}

// Tick applies at most one transition to every task and persists the
// changed ones in a single batch. Concurrent callers queue behind each other
// until ctx is done.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	if err := e.mu.lock(ctx); err != nil {
		return TickResult{}, err
	}
	defer e.mu.unlock()

	result, _, err := e.tickLocked(ctx, now)
	return result, err
}

// TryTick is Tick, except it returns ran=false immediately when another
// tick or mutation holds the engine.
func (e *Engine) TryTick(ctx context.Context, now time.Time) (result TickResult, ran bool, err error) {
	if !e.mu.tryLock() {
		e.skipped.Add(1)
		return TickResult{}, false, nil
	}
	defer e.mu.unlock()

	result, _, err = e.tickLocked(ctx, now)
	return result, true, err
}

// Observe ticks and reads the settled tasks and all assets under the same
// lock, so every task in the snapshot has its asset alongside it.
func (e *Engine) Observe(ctx context.Context, now time.Time) (Snapshot, error) {
	if err := e.mu.lock(ctx); err != nil {
		return Snapshot{}, err
	}
	defer e.mu.unlock()

	result, tasks, err := e.tickLocked(ctx, now)
	if err != nil {
		return Snapshot{}, err
	}
	assets, err := e.repo.ListAssets(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list assets: %w", err)
	}
	return Snapshot{Tasks: tasks, Assets: assets, Result: result}, nil
}

func (e *Engine) tickLocked(ctx context.Context, now time.Time) (TickResult, []models.ProcessingTask, error) {
	tasks, err := e.repo.ListTasks(ctx)
	if err != nil {
		return TickResult{}, nil, fmt.Errorf("list tasks: %w", err)
	}

	result := TickResult{Evaluated: len(tasks)}
	var (
		changed []models.ProcessingTask
		events  []models.TaskEvent
	)
	for i, t := range tasks {
		next, ok := e.step(t, now)
		if !ok {
			continue
		}
		changed = append(changed, next)
		tasks[i] = next

		switch {
		case next.Status == t.Status:
			result.Progressed++
			continue
		case next.Status == models.StatusProcessing:
			result.Started++
		case next.Status == models.StatusCompleted:
			result.Completed++
		case next.Status == models.StatusFailed:
			result.Failed++
		}
		events = append(events, models.NewTaskEvent(t.Status, next, now))
		e.logger.Info("Task transitioned",
			zap.String("task_id", next.ID),
			zap.String("asset_id", next.AssetID),
			zap.String("from", string(t.Status)),
			zap.String("to", string(next.Status)),
			zap.Int("progress", next.Progress),
			zap.String("error", next.Error),
		)
	}

	if len(changed) > 0 {
		if err := e.repo.UpdateTasks(ctx, changed); err != nil {
			return TickResult{}, nil, fmt.Errorf("persist tick: %w", err)
		}
	}
	e.outbox.enqueue(events)

	e.ticks.Add(1)
	e.started.Add(int64(result.Started))
	e.progressed.Add(int64(result.Progressed))
	e.completed.Add(int64(result.Completed))
	e.failed.Add(int64(result.Failed))

	e.logger.Debug("Tick finished",
		zap.Time("now", now),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("changed", result.Changed()),
	)

	return result, tasks, nil
}

// step returns the task after the single transition that applies at now.
func (e *Engine) step(t models.ProcessingTask, now time.Time) (models.ProcessingTask, bool) {
	switch t.Status {
	case models.StatusQueued:
		if now.Sub(t.CreatedAt) > e.queueDelay {
			next := t.Clone()
			startedAt := now
			next.Status = models.StatusProcessing
			next.StartedAt = &startedAt
			next.Progress = 0
			return next, true
		}
	case models.StatusProcessing:
		return e.model.Advance(t, now)
	}
	return t, false
}

// Submit creates one QUEUED task per distinct variant, all or nothing.
func (e *Engine) Submit(ctx context.Context, assetID string, variants []models.Variant, now time.Time) ([]models.ProcessingTask, error) {
	distinct, err := validation.Variants(variants)
	if err != nil {
		return nil, err
	}

	if err := e.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.unlock()

	tasks := make([]models.ProcessingTask, 0, len(distinct))
	for _, v := range distinct {
		tasks = append(tasks, models.NewTask(assetID, v, now))
	}
	if err := e.repo.CreateTasks(ctx, tasks); err != nil {
		return nil, err
	}

	events := make([]models.TaskEvent, 0, len(tasks))
	for _, t := range tasks {
		events = append(events, models.NewTaskEvent("", t, now))
	}
	e.outbox.enqueue(events)

	e.logger.Info("Job submitted",
		zap.String("asset_id", assetID),
		zap.Int("tasks", len(tasks)),
		zap.Int("requested_variants", len(variants)),
	)
	return tasks, nil
}

// Retry resets a FAILED task to a fresh QUEUED record.
func (e *Engine) Retry(ctx context.Context, taskID string, now time.Time) (models.ProcessingTask, error) {
	if err := e.mu.lock(ctx); err != nil {
		return models.ProcessingTask{}, err
	}
	defer e.mu.unlock()

	task, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return models.ProcessingTask{}, err
	}
	if task.Status != models.StatusFailed {
		return models.ProcessingTask{}, apperrors.InvalidState("retry_task", taskID,
			fmt.Errorf("%w: status is %s", ErrTaskNotFailed, task.Status))
	}

	next := task.Requeue(now)
	if err := e.repo.UpdateTask(ctx, next); err != nil {
		return models.ProcessingTask{}, err
	}
	e.outbox.enqueue([]models.TaskEvent{models.NewTaskEvent(task.Status, next, now)})

	e.logger.Info("Task requeued",
		zap.String("task_id", taskID),
		zap.String("previous_error", task.Error),
	)
	return next, nil
}

// Reset irreversibly removes every asset and task.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.mu.lock(ctx); err != nil {
		return err
	}
	defer e.mu.unlock()

	if err := e.repo.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	e.logger.Warn("Store cleared")
	return nil
}

// Run ticks every interval until ctx is done. Ticks that would overlap a
// running one are dropped.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.logger.Info("Scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, ran, err := e.TryTick(ctx, e.clock.Now())
			if err != nil {
				e.logger.Error("Tick failed", zap.Error(err))
			} else if !ran {
				e.logger.Debug("Tick skipped, engine busy")
			}
		case <-ctx.Done():
			e.logger.Info("Scheduler stopped")
			return
		}
	}
}

// Task reads one task without taking the engine lock.
func (e *Engine) Task(ctx context.Context, taskID string) (*models.ProcessingTask, error) {
	return e.repo.GetTask(ctx, taskID)
}

// Tasks lists every task without ticking or taking the engine lock.
func (e *Engine) Tasks(ctx context.Context) ([]models.ProcessingTask, error) {
	return e.repo.ListTasks(ctx)
}
