package outbox

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an event in the outbox.
type Status string

const (
	// StatusPending means the event is waiting to be relayed.
	StatusPending Status = "pending"
	// StatusProcessed means the event was delivered to the sink.
	StatusProcessed Status = "processed"
	// StatusFailed means delivery was given up on; the event is kept for inspection.
	StatusFailed Status = "failed"
)

// ParseStatus converts a persisted status token back into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessed, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// fieldDelimiter separates the fields of a persisted record.
const fieldDelimiter = "|"

// Event is one unit of work to relay. ID and Payload are immutable after
// creation; Status is mutated only through the Store.
type Event struct {
	ID      string
	Payload string
	Status  Status

	// Headers carry metadata alongside the payload, including the injected
	// trace context. The file-backed store does not persist them.
	Headers map[string]string

	// Attempts and LastError are bookkeeping filled in by the store for
	// failed events. They are zero for freshly appended events.
	Attempts  int
	LastError string
}

// NewEvent creates a pending event. An empty id gets a generated UUID.
func NewEvent(id, payload string) Event {
	if id == "" {
		id = uuid.NewString()
	}
	return Event{
		ID:      id,
		Payload: payload,
		Status:  StatusPending,
		Headers: make(map[string]string),
	}
}

// Validate checks that the event can be represented in the line-oriented
// persistence format: a non-empty id and no delimiter or newline in either
// the id or the payload.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPayload)
	}
	for _, field := range []string{e.ID, e.Payload} {
		if strings.ContainsAny(field, fieldDelimiter+"\n\r") {
			return fmt.Errorf("%w: field contains delimiter or newline", ErrInvalidPayload)
		}
	}
	return nil
}

// MarshalLine renders the event as a persisted record, without the
// trailing newline.
func (e Event) MarshalLine() string {
	return e.ID + fieldDelimiter + e.Payload + fieldDelimiter + string(e.Status)
}

// ParseLine parses one persisted record. lineNo is carried into the error
// for diagnostics; the record itself is never partially returned.
func ParseLine(line string, lineNo int) (Event, error) {
	parts := strings.Split(line, fieldDelimiter)
	if len(parts) != 3 {
		return Event{}, &ParseError{Line: lineNo, Record: line, Reason: fmt.Sprintf("expected 3 fields, got %d", len(parts))}
	}
	if parts[0] == "" {
		return Event{}, &ParseError{Line: lineNo, Record: line, Reason: "empty id"}
	}
	status, err := ParseStatus(parts[2])
	if err != nil {
		return Event{}, &ParseError{Line: lineNo, Record: line, Reason: err.Error()}
	}
	return Event{
		ID:      parts[0],
		Payload: parts[1],
		Status:  status,
	}, nil
}
