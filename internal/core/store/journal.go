package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a journal entry.
type EventKind string

const (
	EventSelected    EventKind = "selected"
	EventConfirmed   EventKind = "confirmed"
	EventFailure     EventKind = "failure"
	EventExhausted   EventKind = "exhausted"
	EventReactivated EventKind = "reactivated"
)

// ParseEventKind validates a kind supplied on the command line.
func ParseEventKind(value string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(value)))
	switch kind {
	case EventSelected, EventConfirmed, EventFailure, EventExhausted, EventReactivated:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", value)
	}
}

// Event is one row of the usage journal. Credential holds the display name,
// never the secret key.
type Event struct {
	ID          string    `json:"id"`
	Credential  string    `json:"credential"`
	Kind        EventKind `json:"kind"`
	Tokens      int64     `json:"tokens,omitempty"`
	FailureKind string    `json:"failure_kind,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventQuery filters journal reads and deletes. Zero fields do not filter.
type EventQuery struct {
	Credential string
	Kind       EventKind
	Since      time.Time
	Before     time.Time
	Limit      int
}

func (q EventQuery) whereClause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if credential := strings.TrimSpace(q.Credential); credential != "" {
		conds = append(conds, "credential = ?")
		args = append(args, credential)
	}
	if q.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}
	if !q.Before.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, q.Before.UTC().UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// RecordEvent appends an event, filling ID and CreatedAt when unset.
func (s *Store) RecordEvent(ctx context.Context, event Event) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(event.Credential) == "" {
		return errors.New("event credential is required")
	}
	if event.Kind == "" {
		return errors.New("event kind is required")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_events (id, credential, kind, tokens, failure_kind, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Credential, string(event.Kind), event.Tokens,
		nullString(event.FailureKind), nullString(event.RequestID), event.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListEvents returns matching events, newest first.
func (s *Store) ListEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	limit := ""
	if q.Limit > 0 {
		limit = "LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, credential, kind, tokens, failure_kind, request_id, created_at
		FROM usage_events
		%s
		ORDER BY created_at DESC, id
		%s
	`, where, limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	events := []Event{}
	for rows.Next() {
		var (
			event       Event
			kind        string
			failureKind sql.NullString
			requestID   sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&event.ID, &event.Credential, &kind, &event.Tokens, &failureKind, &requestID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		event.Kind = EventKind(kind)
		event.FailureKind = failureKind.String
		event.RequestID = requestID.String
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	return events, nil
}

// CountEvents counts matching events. Limit is ignored.
func (s *Store) CountEvents(ctx context.Context, q EventQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM usage_events
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// PruneEvents deletes events created before the cutoff.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if before.IsZero() {
		return 0, errors.New("prune cutoff is required")
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM usage_events
		WHERE created_at < ?
	`, before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return affected, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
