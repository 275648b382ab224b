package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mediaPipeline/api/models"
)

const (
	DefaultOutboxSize     = 1024
	defaultPublishTimeout = 30 * time.Second
)

// outbox hands event batches to the publisher from a single goroutine, so
// batches leave in the order they were enqueued and a slow publisher never
// holds the engine lock.
type outbox struct {
	batches   chan []models.TaskEvent
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newOutbox(publisher Publisher, size int, timeout time.Duration, logger *zap.Logger) *outbox {
	o := &outbox{
		batches:   make(chan []models.TaskEvent, size),
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go o.run()
	return o
}

// enqueue never blocks. A full outbox drops the batch; the store remains
// the source of truth.
func (o *outbox) enqueue(events []models.TaskEvent) {
	if len(events) == 0 {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.logger.Warn("Event outbox closed, dropping batch", zap.Int("events", len(events)))
		return
	}
	select {
	case o.batches <- events:
	default:
		o.logger.Warn("Event outbox full, dropping batch",
			zap.Int("events", len(events)),
			zap.String("first_task_id", events[0].TaskID),
		)
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for events := range o.batches {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := o.publisher.Publish(ctx, events)
		cancel()
		if err != nil {
			o.logger.Warn("Failed to publish task events",
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
	}
}

// close stops accepting batches and waits until queued ones are published.
func (o *outbox) close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.batches)
	}
	o.mu.Unlock()
	<-o.done
}
