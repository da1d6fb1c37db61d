package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a long-running loop managed by the Dispatcher.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// PollWorker runs a work function on a fixed interval and shuts down
// without abandoning an execution that already started.
type PollWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	run      func(ctx context.Context) error

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewPollWorker creates a ticker-driven worker around run.
func NewPollWorker(name string, interval time.Duration, logger *zap.Logger, run func(ctx context.Context) error) *PollWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		run:      run,
		stopChan: make(chan struct{}),
	}
}

// Start blocks and runs the loop until the context is cancelled or Stop
// is called.
func (w *PollWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("worker already started", zap.String("worker", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("worker starting",
		zap.String("worker", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("worker finished", zap.String("worker", w.name))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			// Claim the WaitGroup slot before re-checking the stop signal.
			// Checking first would leave a window where Stop() observes an
			// empty group and returns while this run is about to start.
			w.wg.Add(1)
			select {
			case <-w.stopChan:
				w.wg.Done()
				return
			default:
			}
			w.runOnce(ctx)
		}
	}
}

// runOnce executes the work function. The caller holds the WaitGroup
// slot that Stop() waits on.
func (w *PollWorker) runOnce(ctx context.Context) {
	defer w.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	if err := w.run(ctx); err != nil {
		w.logger.Error("worker run failed", zap.String("worker", w.name), zap.Error(err))
	}
}

// Stop signals the loop to exit and waits for any in-progress execution
// to finish. It is safe to call more than once.
func (w *PollWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		if !w.started {
			return
		}
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Name returns the worker's name.
func (w *PollWorker) Name() string {
	return w.name
}
