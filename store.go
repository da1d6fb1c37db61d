package outbox

import (
	"context"
	"time"
)

// Store owns the durable sequence of events. Implementations serialize all
// mutations; an appended event must survive a crash and come back as
// pending until it is marked processed.
type Store interface {
	// Append durably adds a new pending event. Duplicate ids are rejected
	// with ErrDuplicateID.
	Append(ctx context.Context, event Event) error

	// ListPending returns a consistent snapshot of all pending events in
	// append order. Malformed records are skipped and logged, never
	// returned and never fatal to the scan.
	ListPending(ctx context.Context) ([]Event, error)

	// ListFailed returns events that exhausted their retries, for manual
	// inspection.
	ListFailed(ctx context.Context) ([]Event, error)

	// MarkProcessed transitions one pending event to processed.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed transitions one pending event to failed, recording reason.
	MarkFailed(ctx context.Context, id string, reason string) error

	// PurgeProcessed removes processed events older than retention and
	// returns how many were removed. Stores without timestamps may ignore
	// retention and purge all processed events.
	PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error)
}
