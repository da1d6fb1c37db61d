package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// markAttempts bounds the engine's own retries of a status update.
	// Losing a mark risks re-delivery, so transient store errors get a
	// few tries before the engine gives up and logs.
	markAttempts   = 3
	markRetryDelay = 250 * time.Millisecond
)

// Engine pulls pending events from the store and delivers them to the
// sink under the retry policy. Attempts for one event are strictly
// sequential; distinct events may be relayed concurrently up to the
// configured bound.
type Engine struct {
	store          Store
	sink           Sink
	policy         RetryPolicy
	logger         *zap.Logger
	metrics        MetricsCollector
	concurrency    int
	deliverTimeout time.Duration
}

// NewEngine creates an Engine with the given store and sink. Defaults:
// no-op logger and metrics, DefaultRetryPolicy, concurrency 1, no
// per-delivery timeout.
func NewEngine(store Store, sink Sink, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		sink:        sink,
		policy:      DefaultRetryPolicy(),
		logger:      zap.NewNop(),
		metrics:     NewNopMetrics(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	return e
}

// ProcessPending relays one snapshot of pending events. It returns once
// every started delivery has reached a terminal state; events whose
// delivery was never started because of cancellation stay pending.
func (e *Engine) ProcessPending(ctx context.Context) error {
	start := time.Now()
	events, err := e.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	e.logger.Debug("fetched pending events", zap.Int("count", len(events)))
	e.metrics.Gauge("relay.batch_size", float64(len(events)), nil)

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
dispatch:
	for i, event := range events {
		select {
		case <-ctx.Done():
			e.logger.Info("shutdown requested, leaving remaining events pending",
				zap.Int("remaining", len(events)-i))
			break dispatch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(ev Event) {
			defer wg.Done()
			defer func() { <-sem }()
			e.relay(ctx, ev)
		}(event)
	}
	wg.Wait()

	e.metrics.Observe("relay.batch_duration", time.Since(start), nil)
	return nil
}

// relay drives one event through its attempt loop until a terminal state
// or cancellation. Cancellation is observed only between attempts and
// during backoff waits; a started delivery always runs to its own
// outcome, so deliveries get a cancellation-immune context. Without
// that, a shutdown signal would abort an in-flight delivery the broker
// may already have accepted, and the event would be redelivered on
// restart.
func (e *Engine) relay(ctx context.Context, event Event) {
	deliveryCtx := ExtractTraceContext(context.WithoutCancel(ctx), event)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			e.logger.Info("delivery cancelled before attempt",
				zap.String("event_id", event.ID), zap.Int("attempt", attempt))
			return
		}

		err := e.deliver(deliveryCtx, event)
		if err == nil {
			e.finish(ctx, event, attempt)
			return
		}

		e.logger.Warn("delivery attempt failed",
			zap.String("event_id", event.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if IsPermanent(err) {
			e.metrics.Inc("relay.rejected", nil)
			e.fail(ctx, event, err)
			return
		}
		if !e.policy.ShouldRetry(attempt) {
			e.fail(ctx, event, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err))
			return
		}

		e.metrics.Inc("relay.retried", nil)
		if !e.wait(ctx, e.policy.NextDelay(attempt)) {
			return
		}
	}
}

func (e *Engine) deliver(ctx context.Context, event Event) error {
	if e.deliverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deliverTimeout)
		defer cancel()
	}

	start := time.Now()
	err := e.sink.Deliver(ctx, event)
	e.metrics.Observe("relay.deliver_duration", time.Since(start), nil)
	return err
}

func (e *Engine) finish(ctx context.Context, event Event, attempts int) {
	if err := e.mark(ctx, func(c context.Context) error {
		return e.store.MarkProcessed(c, event.ID)
	}); err != nil {
		e.metrics.Inc("relay.mark_errors", nil)
		e.logger.Error("failed to mark event processed; it may be delivered again",
			zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	e.metrics.Inc("relay.delivered", nil)
	e.logger.Info("event delivered",
		zap.String("event_id", event.ID), zap.Int("attempts", attempts))
}

func (e *Engine) fail(ctx context.Context, event Event, cause error) {
	if err := e.mark(ctx, func(c context.Context) error {
		return e.store.MarkFailed(c, event.ID, cause.Error())
	}); err != nil {
		e.metrics.Inc("relay.mark_errors", nil)
		e.logger.Error("failed to mark event failed",
			zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	e.metrics.Inc("relay.failed", nil)
	e.logger.Error("event failed permanently",
		zap.String("event_id", event.ID), zap.Error(cause))
}

// mark runs a status update on a cancellation-immune context so a
// shutdown signal cannot lose the outcome of a finished delivery.
func (e *Engine) mark(ctx context.Context, update func(context.Context) error) error {
	markCtx := context.WithoutCancel(ctx)
	var err error
	for i := 1; i <= markAttempts; i++ {
		err = update(markCtx)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return err
		}
		if i < markAttempts {
			time.Sleep(markRetryDelay * time.Duration(i))
		}
	}
	return err
}

// wait sleeps for the backoff delay. It returns false if the context was
// cancelled first.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
