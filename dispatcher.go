package outbox

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrDispatcherRunning is returned by Run when the dispatcher is
// already active.
var ErrDispatcherRunning = errors.New("dispatcher already running")

// Dispatcher is the relay's shutdown coordinator. Run starts every
// registered worker and blocks until the context is cancelled or
// Shutdown is called; it returns only after each worker has drained its
// in-flight work. The daemon exits after Run returns, so a started
// delivery is never abandoned by process exit.
type Dispatcher struct {
	logger  *zap.Logger
	workers []Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewDispatcher creates a dispatcher over the given workers. Workers
// drain in reverse registration order, so register the relay worker
// first and auxiliary loops after it.
func NewDispatcher(logger *zap.Logger, workers ...Worker) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		workers: workers,
	}
}

// Run blocks until the shutdown completes. It returns
// ErrDispatcherRunning when called while another Run is active.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	d.logger.Info("dispatcher running", zap.Int("workers", len(d.workers)))

	var wg sync.WaitGroup
	for _, worker := range d.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			d.logger.Info("worker starting", zap.String("worker", w.Name()))
			w.Start(runCtx)
			d.logger.Info("worker stopped", zap.String("worker", w.Name()))
		}(worker)
	}

	<-runCtx.Done()
	d.logger.Info("shutdown requested, draining workers")

	// Auxiliary workers go down before the relay loop. Each Stop blocks
	// until that worker's in-progress run has finished.
	for i := len(d.workers) - 1; i >= 0; i-- {
		d.workers[i].Stop()
	}
	wg.Wait()

	d.mu.Lock()
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	d.logger.Info("dispatcher shutdown complete")
	return nil
}

// Shutdown asks a blocked Run to exit. It is a no-op when the
// dispatcher is not running and is safe to call more than once.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel == nil {
		d.logger.Warn("shutdown requested but dispatcher is not running")
		return
	}
	cancel()
}

// Running reports whether Run is currently active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
