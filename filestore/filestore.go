// Package filestore implements the outbox Store on a flat, line-oriented
// log: one record per line, fields separated by '|', in the order
// id|payload|status. Appends go straight to the log; status mutations
// rewrite the whole sequence through a temp file and an atomic rename so
// a crash can never leave a truncated log behind.
//
// The format suits small volumes. A store that must scale should append
// status-change records and compact lazily instead; the contract exposed
// here would not change.
package filestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaykit/outbox"
)

// Store is a file-backed outbox store. All mutations run under a single
// writer lock; readers get a consistent snapshot and never a torn record.
type Store struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex

	// skipped counts malformed records dropped during scans since the
	// store was opened.
	skipped atomic.Int64

	// failReasons keeps MarkFailed reasons for inspection. The flat
	// three-field format cannot carry them, so they live in memory and
	// in the log output only.
	reasonMu    sync.Mutex
	failReasons map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New opens (creating if needed) the outbox log at path. An unwritable
// path is reported here so the caller can fail fast at startup.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		logger:      zap.NewNop(),
		failReasons: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open outbox log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close outbox log %s: %w", path, err)
	}
	return s, nil
}

// Append implements the outbox.Store interface. Duplicate ids are
// rejected so a producer retry cannot enqueue the same logical event
// twice.
func (s *Store) Append(ctx context.Context, event outbox.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}
	if err := event.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll()
	if err != nil {
		return err
	}
	for _, existing := range events {
		if existing.ID == event.ID {
			return fmt.Errorf("append %s: %w", event.ID, outbox.ErrDuplicateID)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(event.MarshalLine() + "\n"); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync outbox log: %w", err)
	}
	return nil
}

// ListPending implements the outbox.Store interface.
func (s *Store) ListPending(ctx context.Context) ([]outbox.Event, error) {
	return s.listByStatus(ctx, outbox.StatusPending)
}

// ListFailed implements the outbox.Store interface. Recorded failure
// reasons are attached where known.
func (s *Store) ListFailed(ctx context.Context) ([]outbox.Event, error) {
	events, err := s.listByStatus(ctx, outbox.StatusFailed)
	if err != nil {
		return nil, err
	}

	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	for i := range events {
		events[i].LastError = s.failReasons[events[i].ID]
	}
	return events, nil
}

func (s *Store) listByStatus(ctx context.Context, status outbox.Status) ([]outbox.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll()
	if err != nil {
		return nil, err
	}

	matched := make([]outbox.Event, 0, len(events))
	for _, event := range events {
		if event.Status == status {
			matched = append(matched, event)
		}
	}
	return matched, nil
}

// MarkProcessed implements the outbox.Store interface.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	return s.transition(ctx, id, outbox.StatusProcessed)
}

// MarkFailed implements the outbox.Store interface. The reason cannot be
// persisted in the three-field format; it is logged and retained in
// memory for ListFailed.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	if err := s.transition(ctx, id, outbox.StatusFailed); err != nil {
		return err
	}

	s.reasonMu.Lock()
	s.failReasons[id] = reason
	s.reasonMu.Unlock()

	s.logger.Warn("event marked failed",
		zap.String("event_id", id), zap.String("reason", reason))
	return nil
}

func (s *Store) transition(ctx context.Context, id string, to outbox.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll()
	if err != nil {
		return err
	}

	found := false
	for i := range events {
		if events[i].ID != id {
			continue
		}
		found = true
		if events[i].Status == to {
			return nil // idempotent
		}
		if events[i].Status != outbox.StatusPending {
			return fmt.Errorf("event %s is %s: %w", id, events[i].Status, outbox.ErrInvalidTransition)
		}
		events[i].Status = to
		break
	}
	if !found {
		return fmt.Errorf("mark %s: %w", id, outbox.ErrNotFound)
	}

	return s.writeAll(events)
}

// PurgeProcessed implements the outbox.Store interface. The flat format
// carries no timestamps, so retention is ignored and every processed
// record is removed.
func (s *Store) PurgeProcessed(ctx context.Context, _ time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll()
	if err != nil {
		return 0, err
	}

	kept := events[:0]
	var removed int64
	for _, event := range events {
		if event.Status == outbox.StatusProcessed {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.writeAll(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// SkippedRecords returns how many malformed records scans have dropped
// since the store was opened.
func (s *Store) SkippedRecords() int64 {
	return s.skipped.Load()
}

// readAll scans the full log. Malformed records are skipped, logged and
// counted rather than failing the scan. Caller holds mu.
func (s *Store) readAll() ([]outbox.Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open outbox log: %w", err)
	}
	defer f.Close()

	var events []outbox.Event
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		event, err := outbox.ParseLine(line, lineNo)
		if err != nil {
			s.skipped.Add(1)
			s.logger.Warn("skipping malformed outbox record",
				zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan outbox log: %w", err)
	}
	return events, nil
}

// writeAll replaces the log atomically: write a temp file in the same
// directory, sync it, then rename over the original. Caller holds mu.
func (s *Store) writeAll(events []outbox.Event) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".outbox-*")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, event := range events {
		if _, err := w.WriteString(event.MarshalLine() + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace outbox log: %w", err)
	}
	return nil
}
