package outbox

import "context"

// Sink is the external delivery target for relayed events. Any error from
// Deliver is treated as transient unless it is marked with Permanent.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
	Close() error
}

// NopSink discards every event. Useful as a default and in tests.
type NopSink struct{}

// NewNopSink creates a new NopSink.
func NewNopSink() *NopSink {
	return &NopSink{}
}

// Deliver implements the Sink interface.
func (s *NopSink) Deliver(_ context.Context, _ Event) error {
	return nil
}

// Close implements the Sink interface.
func (s *NopSink) Close() error {
	return nil
}
