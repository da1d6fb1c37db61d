package outbox

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector receives counters, durations and gauges emitted by the
// relay components.
type MetricsCollector interface {
	Inc(name string, tags map[string]string)
	Observe(name string, d time.Duration, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
}

// NopMetrics is the default collector; it drops everything.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// Inc implements the MetricsCollector interface.
func (m *NopMetrics) Inc(string, map[string]string) {}

// Observe implements the MetricsCollector interface.
func (m *NopMetrics) Observe(string, time.Duration, map[string]string) {}

// Gauge implements the MetricsCollector interface.
func (m *NopMetrics) Gauge(string, float64, map[string]string) {}

// OTelMetrics reports through an OpenTelemetry meter. Instruments are
// created lazily on first use and cached.
type OTelMetrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

// NewOTelMetrics creates a collector on the globally registered meter
// provider.
func NewOTelMetrics() *OTelMetrics {
	return NewOTelMetricsWithMeter(otel.Meter("outbox-relay"))
}

// NewOTelMetricsWithMeter creates a collector on a specific meter.
func NewOTelMetricsWithMeter(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// Inc implements the MetricsCollector interface.
func (m *OTelMetrics) Inc(name string, tags map[string]string) {
	m.mu.Lock()
	counter, ok := m.counters[name]
	if !ok {
		var err error
		counter, err = m.meter.Int64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = counter
	}
	m.mu.Unlock()

	counter.Add(context.Background(), 1, metric.WithAttributes(tagsToAttributes(tags)...))
}

// Observe implements the MetricsCollector interface.
func (m *OTelMetrics) Observe(name string, d time.Duration, tags map[string]string) {
	m.mu.Lock()
	histogram, ok := m.histograms[name]
	if !ok {
		var err error
		histogram, err = m.meter.Float64Histogram(name, metric.WithUnit("s"))
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.histograms[name] = histogram
	}
	m.mu.Unlock()

	histogram.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagsToAttributes(tags)...))
}

// Gauge implements the MetricsCollector interface.
func (m *OTelMetrics) Gauge(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	gauge, ok := m.gauges[name]
	if !ok {
		var err error
		gauge, err = m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = gauge
	}
	m.mu.Unlock()

	gauge.Record(context.Background(), value, metric.WithAttributes(tagsToAttributes(tags)...))
}

func tagsToAttributes(tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for key, value := range tags {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}
