package outbox

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink publishes events to a NATS subject. A flush after each publish
// confirms the server received the message before the delivery is
// considered successful.
type NATSSink struct {
	logger  *zap.Logger
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url string, logger *zap.Logger, opts ...NATSSinkOption) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	s := &NATSSink{
		logger:  logger,
		conn:    conn,
		subject: "outbox.events",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Deliver implements the Sink interface.
func (s *NATSSink) Deliver(ctx context.Context, event Event) error {
	msg := nats.NewMsg(s.subject)
	msg.Data = []byte(event.Payload)
	msg.Header.Set("event_id", event.ID)
	for k, v := range event.Headers {
		msg.Header.Set(k, v)
	}

	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush to nats: %w", err)
	}

	s.logger.Debug("event published to nats",
		zap.String("event_id", event.ID),
		zap.String("subject", s.subject))
	return nil
}

// Close drains the connection so buffered publishes are not lost.
func (s *NATSSink) Close() error {
	s.logger.Info("closing nats sink")
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
