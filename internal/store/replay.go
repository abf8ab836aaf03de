package store

import (
	"context"
	"fmt"
	"time"
)

// EventRecord is one journaled event. Body is the event's JSON encoding;
// the store does not interpret it.
type EventRecord struct {
	Seq       int64
	ID        string
	Type      string
	Body      []byte
	CreatedAt time.Time
}

// ReadEventsAfter returns journaled events with seq > after, ascending.
// limit <= 0 means no limit. Returns an empty slice (not nil) when there are
// none.
func (s *Store) ReadEventsAfter(ctx context.Context, after int64, limit int) ([]EventRecord, error) {
	query := `SELECT seq, id, type, body, created_at FROM events WHERE seq > ? ORDER BY seq ASC`
	args := []any{after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []EventRecord{}
	for rows.Next() {
		var (
			rec     EventRecord
			body    string
			created int64
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Type, &body, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Body = []byte(body)
		rec.CreatedAt = fromUnixNano(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// MaxEventSeq returns the highest journaled sequence number.
// Returns 0 if the journal is empty.
// Used to resume the sequencer after restart.
func (s *Store) MaxEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max event seq: %w", err)
	}
	return seq, nil
}
