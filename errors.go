package outbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a status update names an id that is not
	// in the store.
	ErrNotFound = errors.New("event not found")
	// ErrDuplicateID is returned when appending an event whose id is
	// already present. The store rejects duplicates so a producer retry
	// cannot cause a second delivery of the same logical event.
	ErrDuplicateID = errors.New("event already exists")
	// ErrInvalidPayload is returned when an event cannot be represented in
	// the persisted record format.
	ErrInvalidPayload = errors.New("invalid event payload")
	// ErrInvalidTransition is returned when a status update would move an
	// event out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRetriesExhausted is returned when delivery failed on every allowed
	// attempt. The last sink error is wrapped alongside it.
	ErrRetriesExhausted = errors.New("delivery retries exhausted")
)

// ParseError describes a malformed persisted record. Scans skip and count
// these instead of aborting.
type ParseError struct {
	Line   int
	Record string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed outbox record at line %d: %s", e.Line, e.Reason)
}

// permanentError marks a sink failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the engine routes the event straight to failed
// instead of retrying. Sinks use it to signal rejections such as a
// malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
