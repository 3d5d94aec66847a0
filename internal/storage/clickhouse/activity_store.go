package clickhouse

import (
	"context"
	"fmt"

	"clmm-agent/internal/domain"
	"clmm-agent/internal/storage"
)

// ActivityStore implements storage.ActivityStore using ClickHouse.
// MergeTree does not enforce uniqueness; the history tolerates the rare
// duplicate row rather than paying for dedup on an append-only timeline.
type ActivityStore struct {
	conn *Conn
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(conn *Conn) *ActivityStore {
	return &ActivityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// AppendEvent appends one activity event.
func (s *ActivityStore) AppendEvent(ctx context.Context, e domain.ActivityEvent) error {
	if e.Message == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO activity_events (
			timestamp_ms, level, event_type, intent_id, token_id, message
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	err := s.conn.Exec(ctx, query,
		uint64(e.Timestamp), string(e.Level), string(e.Type),
		e.IntentID, e.TokenID, e.Message,
	)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}

// Recent retrieves the most recent events, newest first.
func (s *ActivityStore) Recent(ctx context.Context, limit int) ([]domain.ActivityEvent, error) {
	query := `
		SELECT timestamp_ms, level, event_type, intent_id, token_id, message
		FROM activity_events
		ORDER BY timestamp_ms DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent activity events: %w", err)
	}
	defer rows.Close()

	var events []domain.ActivityEvent
	for rows.Next() {
		var (
			e           domain.ActivityEvent
			timestampMs uint64
			level, typ  string
		)
		if err := rows.Scan(&timestampMs, &level, &typ, &e.IntentID, &e.TokenID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan activity event row: %w", err)
		}
		e.Timestamp = int64(timestampMs)
		e.Level = domain.ActivityLevel(level)
		e.Type = domain.EventType(typ)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity event rows: %w", err)
	}

	return events, nil
}
