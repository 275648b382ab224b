package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mediaPipeline/api/models"
	"mediaPipeline/worker/cache"
)

type TransitionRecorder interface {
	RecordTransition(ctx context.Context, event *models.TaskEvent) error
}

type StatusWriter interface {
	Set(ctx context.Context, taskID string, entry cache.StatusEntry) error
}

type PreviewRenderer interface {
	RenderPreview(taskID string, profile models.Profile, outputFormat string) (string, error)
}

// Processor mirrors task lifecycle events into the audit log and the status
// cache. Completed tasks also get a preview still when a renderer is set.
type Processor struct {
	repo     TransitionRecorder
	cache    StatusWriter
	renderer PreviewRenderer
	logger   *zap.Logger
}

func NewProcessor(repo TransitionRecorder, cache StatusWriter, renderer PreviewRenderer, logger *zap.Logger) *Processor {
	return &Processor{
		repo:     repo,
		cache:    cache,
		renderer: renderer,
		logger:   logger,
	}
}

func (p *Processor) Process(ctx context.Context, event *models.TaskEvent) error {
	if err := p.repo.RecordTransition(ctx, event); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}

	entry := cache.StatusEntry{
		Status:    event.To,
		Progress:  event.Progress,
		Error:     event.Error,
		OutputURL: event.OutputURL,
		UpdatedAt: event.At,
	}

	if event.To == models.StatusCompleted && p.renderer != nil {
		path, err := p.renderer.RenderPreview(event.TaskID, event.Profile, "jpg")
		if err != nil {
			// the status mirror is still written without a preview
			p.logger.Warn("Preview rendering failed",
				zap.String("task_id", event.TaskID),
				zap.Error(err),
			)
		} else {
			entry.Preview = path
		}
	}

	if err := p.cache.Set(ctx, event.TaskID, entry); err != nil {
		return fmt.Errorf("cache status: %w", err)
	}

	p.logger.Info("Task event mirrored",
		zap.String("task_id", event.TaskID),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.Int("progress", event.Progress),
	)
	return nil
}
