package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const kafkaFlushTimeoutMs = 15 * 1000

// KafkaSink delivers events to a Kafka topic. Each delivery waits for the
// broker's report so the engine knows whether to retry.
type KafkaSink struct {
	logger        *zap.Logger
	producer      *kafka.Producer
	producerProps kafka.ConfigMap
	topic         string
}

// NewKafkaSink creates a KafkaSink with functional options.
func NewKafkaSink(logger *zap.Logger, opts ...KafkaSinkOption) (*KafkaSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &KafkaSink{
		logger: logger,
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"retries":            3,
			"linger.ms":          10,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
		topic: "outbox-events",
	}

	for _, opt := range opts {
		opt(s)
	}

	producer, err := kafka.NewProducer(&s.producerProps)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	s.producer = producer

	return s, nil
}

// Deliver implements the Sink interface. It blocks until the broker
// acknowledges the message or the context is done.
func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	topic := s.topic
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.ID),
		Value:          []byte(event.Payload),
		Headers:        buildKafkaHeaders(event),
		Timestamp:      time.Now(),
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := s.producer.Produce(message, deliveryChan); err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case report := <-deliveryChan:
		msg, ok := report.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery report %T", report)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery: %w", msg.TopicPartition.Error)
		}
		s.logger.Debug("event produced to kafka",
			zap.String("event_id", event.ID),
			zap.String("topic", topic))
		return nil
	}
}

// Close flushes outstanding messages and closes the producer.
func (s *KafkaSink) Close() error {
	s.logger.Info("closing kafka sink")
	s.producer.Flush(kafkaFlushTimeoutMs)
	s.producer.Close()
	return nil
}

func buildKafkaHeaders(event Event) []kafka.Header {
	headers := make([]kafka.Header, 0, len(event.Headers)+1)
	headers = append(headers, kafka.Header{Key: "event_id", Value: []byte(event.ID)})
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
