package outbox

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPSink publishes events to a RabbitMQ exchange. The channel is put in
// confirm mode so a delivery only succeeds once the broker acked it.
type AMQPSink struct {
	logger     *zap.Logger
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPSink dials the broker at url and opens a confirmed channel.
func NewAMQPSink(url string, logger *zap.Logger, opts ...AMQPSinkOption) (*AMQPSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	s := &AMQPSink{
		logger:     logger,
		conn:       conn,
		channel:    channel,
		routingKey: "outbox.events",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Deliver implements the Sink interface.
func (s *AMQPSink) Deliver(ctx context.Context, event Event) error {
	headers := make(amqp.Table, len(event.Headers))
	for k, v := range event.Headers {
		headers[k] = v
	}

	confirmation, err := s.channel.PublishWithDeferredConfirmWithContext(ctx,
		s.exchange,
		s.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			MessageId:    event.ID,
			Headers:      headers,
			Body:         []byte(event.Payload),
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("publish to amqp: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await amqp confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("amqp broker nacked event %s", event.ID)
	}

	s.logger.Debug("event published to amqp",
		zap.String("event_id", event.ID),
		zap.String("exchange", s.exchange),
		zap.String("routing_key", s.routingKey))
	return nil
}

// Close closes the channel and the connection.
func (s *AMQPSink) Close() error {
	s.logger.Info("closing amqp sink")
	if err := s.channel.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}
