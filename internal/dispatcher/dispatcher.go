// Package dispatcher manages worker fan-out over the extraction job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/novel"
	"github.com/narrately/novelgraph/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   novel.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue novel.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item novel.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
