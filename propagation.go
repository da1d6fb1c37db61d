package outbox

import (
	"context"

	"go.opentelemetry.io/otel"
)

// headerCarrier adapts an Event's headers to the OpenTelemetry
// TextMapCarrier interface so trace context can travel with the event
// through the store and out to the sink.
type headerCarrier struct {
	event *Event
}

// NewHeaderCarrier wraps an event for trace-context propagation.
func NewHeaderCarrier(event *Event) headerCarrier {
	return headerCarrier{event: event}
}

// Get implements propagation.TextMapCarrier.
func (c headerCarrier) Get(key string) string {
	return c.event.Headers[key]
}

// Set implements propagation.TextMapCarrier.
func (c headerCarrier) Set(key, value string) {
	if c.event.Headers == nil {
		c.event.Headers = make(map[string]string)
	}
	c.event.Headers[key] = value
}

// Keys implements propagation.TextMapCarrier.
func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.event.Headers))
	for k := range c.event.Headers {
		keys = append(keys, k)
	}
	return keys
}

// InjectTraceContext copies the trace context from ctx into the event's
// headers using the globally registered propagator.
func InjectTraceContext(ctx context.Context, event *Event) {
	otel.GetTextMapPropagator().Inject(ctx, NewHeaderCarrier(event))
}

// ExtractTraceContext returns ctx enriched with the trace context carried
// in the event's headers, so deliveries continue the producer's trace.
func ExtractTraceContext(ctx context.Context, event Event) context.Context {
	e := event
	return otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(&e))
}
