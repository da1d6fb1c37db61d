package outbox

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSink is a testify mock of the Sink interface.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Deliver(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}
