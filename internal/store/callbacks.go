package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/playbookd/internal/playbook"
)

// WriteCallback stores a suspended branch. Uses ON CONFLICT(id) DO NOTHING
// for idempotency - a duplicate id is silently ignored.
func (s *Store) WriteCallback(ctx context.Context, cb playbook.Callback) error {
	bundleJSON, err := json.Marshal(cb.Bundle)
	if err != nil {
		return fmt.Errorf("write callback: %w", err)
	}
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = time.Now()
	}

	var resolved sql.NullInt64
	if cb.ResolvedAt != nil {
		resolved = sql.NullInt64{Int64: toNanos(*cb.ResolvedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO callbacks
		(id, playbook_id, step_id, previous_step_id, instance_id, bundle, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		cb.ID,
		cb.PlaybookID,
		cb.StepID,
		cb.PreviousStepID,
		cb.InstanceID,
		string(bundleJSON),
		toNanos(cb.CreatedAt),
		resolved,
	)
	if err != nil {
		return fmt.Errorf("write callback: %w", err)
	}
	return nil
}

// ReadCallback returns the callback with the given id, or ErrNotFound.
func (s *Store) ReadCallback(ctx context.Context, id string) (playbook.Callback, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, playbook_id, step_id, previous_step_id, instance_id, bundle, created_at, resolved_at
		FROM callbacks
		WHERE id = ?
	`, id)
	cb, err := scanCallback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return playbook.Callback{}, fmt.Errorf("callback %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return playbook.Callback{}, fmt.Errorf("read callback: %w", err)
	}
	return cb, nil
}

// ListPendingCallbacks returns unresolved callbacks ordered by creation time.
// An empty playbookID lists callbacks for every playbook.
func (s *Store) ListPendingCallbacks(ctx context.Context, playbookID string) ([]playbook.Callback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playbook_id, step_id, previous_step_id, instance_id, bundle, created_at, resolved_at
		FROM callbacks
		WHERE resolved_at IS NULL AND (? = '' OR playbook_id = ?)
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, playbookID, playbookID)
	if err != nil {
		return nil, fmt.Errorf("query callbacks: %w", err)
	}
	defer rows.Close()

	callbacks := []playbook.Callback{}
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan callback: %w", err)
		}
		callbacks = append(callbacks, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate callbacks: %w", err)
	}
	return callbacks, nil
}

// ResolveCallback marks a pending callback as resumed. Returns ErrNotFound
// when no pending callback has the id.
func (s *Store) ResolveCallback(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE callbacks SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL
	`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("resolve callback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve callback: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pending callback %q: %w", id, ErrNotFound)
	}
	return nil
}

func scanCallback(row scanner) (playbook.Callback, error) {
	var (
		cb         playbook.Callback
		bundleJSON string
		created    int64
		resolved   sql.NullInt64
	)
	err := row.Scan(
		&cb.ID,
		&cb.PlaybookID,
		&cb.StepID,
		&cb.PreviousStepID,
		&cb.InstanceID,
		&bundleJSON,
		&created,
		&resolved,
	)
	if err != nil {
		return playbook.Callback{}, err
	}
	if err := json.Unmarshal([]byte(bundleJSON), &cb.Bundle); err != nil {
		return playbook.Callback{}, fmt.Errorf("callback %q: %w", cb.ID, err)
	}
	cb.CreatedAt = fromNanos(created)
	if resolved.Valid {
		at := fromNanos(resolved.Int64)
		cb.ResolvedAt = &at
	}
	return cb, nil
}
