package pool

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"mediaPipeline/api/models"
)

type Handler func(ctx context.Context, event *models.TaskEvent) error

// WorkerPool runs events on a fixed set of workers. Events of the same task
// always hash to the same worker, so they are handled in arrival order.
type WorkerPool struct {
	queues  []chan *models.TaskEvent
	handler Handler
	logger  *zap.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

func NewWorkerPool(maxWorkers, queueSize int, handler Handler, logger *zap.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	queues := make([]chan *models.TaskEvent, maxWorkers)
	for i := range queues {
		queues[i] = make(chan *models.TaskEvent, queueSize)
	}
	return &WorkerPool{
		queues:  queues,
		handler: handler,
		logger:  logger,
	}
}

// Start launches the workers. They exit once Close has drained their queue.
func (p *WorkerPool) Start(ctx context.Context) {
	for i, q := range p.queues {
		p.wg.Add(1)
		go func(id int, q <-chan *models.TaskEvent) {
			defer p.wg.Done()
			for event := range q {
				if err := p.handler(ctx, event); err != nil {
					p.logger.Error("Event handling failed",
						zap.Int("worker", id),
						zap.String("task_id", event.TaskID),
						zap.String("status", string(event.To)),
						zap.Error(err),
					)
				}
			}
		}(i, q)
	}
}

// Submit blocks until the event is queued or ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, event *models.TaskEvent) error {
	select {
	case p.queues[p.shard(event.TaskID)] <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) shard(taskID string) int {
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Close stops accepting events and waits for queued ones to finish.
// Submit must not be called after Close.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}
