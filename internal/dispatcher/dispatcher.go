// Package dispatcher manages worker fan-out over the claimable task pool.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/worker"
)

// Dispatcher runs a fixed pool of extraction workers. Coordination between
// workers happens entirely through the claims table, so the dispatcher only
// supervises lifecycles.
type Dispatcher struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Run starts all workers and blocks until the context finishes and every
// worker has drained its in-flight task.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting workers", zap.Int("count", len(d.workers)))
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
	d.logger.Info("all workers stopped")
}
