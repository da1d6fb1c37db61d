package outbox

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

//
// Engine options
//

type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the engine metrics collector.
func WithMetrics(metrics MetricsCollector) EngineOption {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithRetryPolicy sets the backoff policy for delivery attempts.
func WithRetryPolicy(policy RetryPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = policy
	}
}

// WithConcurrency bounds how many events are relayed at once. Attempts
// for a single event are always sequential regardless of this setting.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// WithDeliverTimeout wraps each sink delivery in a timeout. A timed-out
// delivery is treated as a transient failure.
func WithDeliverTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		e.deliverTimeout = timeout
	}
}

//
// KafkaSink options
//

type KafkaSinkOption func(*KafkaSink)

// WithKafkaProducerProps overrides or extends the default producer
// configuration.
func WithKafkaProducerProps(props kafka.ConfigMap) KafkaSinkOption {
	return func(s *KafkaSink) {
		for k, v := range props {
			s.producerProps[k] = v
		}
	}
}

// WithKafkaTopic sets the topic events are produced to.
func WithKafkaTopic(topic string) KafkaSinkOption {
	return func(s *KafkaSink) {
		s.topic = topic
	}
}

//
// NATSSink options
//

type NATSSinkOption func(*NATSSink)

// WithNATSSubject sets the subject events are published on.
func WithNATSSubject(subject string) NATSSinkOption {
	return func(s *NATSSink) {
		s.subject = subject
	}
}

//
// AMQPSink options
//

type AMQPSinkOption func(*AMQPSink)

// WithAMQPExchange sets the exchange events are published to. An empty
// exchange publishes to the default exchange.
func WithAMQPExchange(exchange string) AMQPSinkOption {
	return func(s *AMQPSink) {
		s.exchange = exchange
	}
}

// WithAMQPRoutingKey sets the routing key for published events.
func WithAMQPRoutingKey(key string) AMQPSinkOption {
	return func(s *AMQPSink) {
		s.routingKey = key
	}
}
