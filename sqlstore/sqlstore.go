// Package sqlstore implements the outbox Store on MySQL. Unlike the
// file-backed store it persists headers, attempt counts and failure
// reasons, and purges by real timestamps.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/relaykit/outbox"
)

const tableEvents = "outbox_events"

const (
	insertQuery = `
		INSERT INTO %s (event_id, payload, headers, status)
		VALUES (?, ?, ?, ?)`

	listByStatusQuery = `
		SELECT event_id, payload, headers, status, attempt_count, last_error
		FROM %s
		WHERE status = ?
		ORDER BY id`

	markProcessedQuery = `
		UPDATE %s SET status = ?
		WHERE event_id = ? AND status = ?`

	markFailedQuery = `
		UPDATE %s SET status = ?, last_error = ?
		WHERE event_id = ? AND status = ?`

	selectStatusQuery = `SELECT status FROM %s WHERE event_id = ?`

	purgeProcessedQuery = `DELETE FROM %s WHERE status = ? AND updated_at < ?`
)

// duplicateEntryErrno is MySQL error 1062.
const duplicateEntryErrno = 1062

// Store is a MySQL-backed outbox store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New creates a Store on the given database handle.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Append implements the outbox.Store interface.
func (s *Store) Append(ctx context.Context, event outbox.Event) error {
	if event.ID == "" {
		return fmt.Errorf("append: %w: empty id", outbox.ErrInvalidPayload)
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}

	var headersJSON []byte
	if len(event.Headers) > 0 {
		var err error
		headersJSON, err = json.Marshal(event.Headers)
		if err != nil {
			return fmt.Errorf("marshal headers: %w", err)
		}
	}

	query := fmt.Sprintf(insertQuery, tableEvents)
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Payload,
		headersJSON,
		string(event.Status),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntryErrno {
			return fmt.Errorf("append %s: %w", event.ID, outbox.ErrDuplicateID)
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListPending implements the outbox.Store interface.
func (s *Store) ListPending(ctx context.Context) ([]outbox.Event, error) {
	return s.listByStatus(ctx, outbox.StatusPending)
}

// ListFailed implements the outbox.Store interface.
func (s *Store) ListFailed(ctx context.Context) ([]outbox.Event, error) {
	return s.listByStatus(ctx, outbox.StatusFailed)
}

func (s *Store) listByStatus(ctx context.Context, status outbox.Status) ([]outbox.Event, error) {
	query := fmt.Sprintf(listByStatusQuery, tableEvents)
	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("query %s events: %w", status, err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// MarkProcessed implements the outbox.Store interface.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	query := fmt.Sprintf(markProcessedQuery, tableEvents)
	res, err := s.db.ExecContext(ctx, query,
		string(outbox.StatusProcessed), id, string(outbox.StatusPending))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return s.checkTransition(ctx, res, id, outbox.StatusProcessed)
}

// MarkFailed implements the outbox.Store interface.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	query := fmt.Sprintf(markFailedQuery, tableEvents)
	res, err := s.db.ExecContext(ctx, query,
		string(outbox.StatusFailed), reason, id, string(outbox.StatusPending))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.checkTransition(ctx, res, id, outbox.StatusFailed)
}

// checkTransition distinguishes a missing event from one already in a
// terminal state when the guarded update matched no row.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string, to outbox.Status) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	query := fmt.Sprintf(selectStatusQuery, tableEvents)
	err = s.db.QueryRowContext(ctx, query, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark %s: %w", id, outbox.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check event status: %w", err)
	}
	if current == string(to) {
		return nil // idempotent
	}
	return fmt.Errorf("event %s is %s: %w", id, current, outbox.ErrInvalidTransition)
}

// PurgeProcessed implements the outbox.Store interface.
func (s *Store) PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	query := fmt.Sprintf(purgeProcessedQuery, tableEvents)
	res, err := s.db.ExecContext(ctx, query, string(outbox.StatusProcessed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) scanEvents(rows *sql.Rows) ([]outbox.Event, error) {
	var events []outbox.Event
	for rows.Next() {
		var (
			event       outbox.Event
			status      string
			headersJSON []byte
			lastError   sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.Payload,
			&headersJSON,
			&status,
			&event.Attempts,
			&lastError,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		parsed, err := outbox.ParseStatus(status)
		if err != nil {
			// Same partial-failure policy as the file store: skip and log.
			s.logger.Warn("skipping event with unknown status",
				zap.String("event_id", event.ID), zap.String("status", status))
			continue
		}
		event.Status = parsed
		event.LastError = lastError.String

		if len(headersJSON) > 0 {
			if err := json.Unmarshal(headersJSON, &event.Headers); err != nil {
				s.logger.Warn("dropping unreadable event headers",
					zap.String("event_id", event.ID), zap.Error(err))
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read event rows: %w", err)
	}
	return events, nil
}

// EnsureTable creates the outbox table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_events (
			id            BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id      VARCHAR(255) NOT NULL UNIQUE,
			payload       TEXT         NOT NULL,
			headers       JSON         NULL,
			status        VARCHAR(16)  NOT NULL DEFAULT 'pending',
			attempt_count INT          NOT NULL DEFAULT 0,
			last_error    TEXT         NULL,
			created_at    TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at    TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
			INDEX idx_status (status),
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create outbox_events table: %w", err)
	}
	return nil
}
