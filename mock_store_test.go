package outbox

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListPending(ctx context.Context) ([]Event, error) {
	args := m.Called(ctx)
	var events []Event
	if v := args.Get(0); v != nil {
		events = v.([]Event)
	}
	return events, args.Error(1)
}

func (m *MockStore) ListFailed(ctx context.Context) ([]Event, error) {
	args := m.Called(ctx)
	var events []Event
	if v := args.Get(0); v != nil {
		events = v.([]Event)
	}
	return events, args.Error(1)
}

func (m *MockStore) MarkProcessed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, id string, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockStore) PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}
