package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/playbookd/internal/playbook"
)

// AppendEvent appends a change event to the log and returns its seq.
func (s *Store) AppendEvent(ctx context.Context, typ playbook.EventType, data map[string]any) (int64, error) {
	if _, err := playbook.ParseEventType(string(typ)); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	payload, err := marshalEventData(data)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_events (type, data, created_at) VALUES (?, ?, ?)
	`, string(typ), payload, toNanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// ReadEvents returns up to limit events with seq > after, ordered by seq.
// A limit <= 0 returns every remaining event.
func (s *Store) ReadEvents(ctx context.Context, after int64, limit int) ([]playbook.ChangeEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, data
		FROM stream_events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []playbook.ChangeEvent{}
	for rows.Next() {
		var (
			ev      playbook.ChangeEvent
			typ     string
			payload string
		)
		if err := rows.Scan(&ev.Seq, &typ, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = playbook.EventType(typ)
		if ev.Data, err = unmarshalEventData(payload); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestEventSeq returns the seq of the newest event, or 0 for an empty log.
func (s *Store) LatestEventSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM stream_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest event seq: %w", err)
	}
	return seq.Int64, nil
}

// ReadCheckpoint returns the last committed seq for a consumer.
// The boolean is false when the consumer has never committed.
func (s *Store) ReadCheckpoint(ctx context.Context, consumer string) (int64, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT seq FROM stream_checkpoints WHERE consumer = ?
	`, consumer).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return seq, true, nil
}

// WriteCheckpoint records seq as the consumer's position. Checkpoints never
// move backwards.
func (s *Store) WriteCheckpoint(ctx context.Context, consumer string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_checkpoints (consumer, seq) VALUES (?, ?)
		ON CONFLICT(consumer) DO UPDATE SET seq = MAX(seq, excluded.seq)
	`, consumer, seq)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
