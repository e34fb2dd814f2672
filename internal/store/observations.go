package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/playbookd/internal/playbook"
)

// RecordObservation appends a step attempt to the observation log and makes it
// the latest attempt for its (playbook, step key). Returns the assigned seq.
//
// Both writes happen in one transaction so the index never points at a
// missing log row.
func (s *Store) RecordObservation(ctx context.Context, o playbook.Observation) (int64, error) {
	bundleJSON, err := marshalBundle(o.Bundle)
	if err != nil {
		return 0, fmt.Errorf("record observation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record observation: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO observation_log
		(playbook_id, step_key, step_id, instance_id, in_ts, out_ts, output_port, bundle, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.PlaybookID,
		o.StepKey(),
		o.StepID,
		o.InstanceID,
		toNanos(o.InTimestamp),
		toNanos(o.OutTimestamp),
		o.OutputPort,
		bundleJSON,
		o.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("record observation: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record observation: %w", err)
	}

	// Last write wins
	_, err = tx.ExecContext(ctx, `
		INSERT INTO observations (playbook_id, step_key, seq) VALUES (?, ?, ?)
		ON CONFLICT(playbook_id, step_key) DO UPDATE SET seq = excluded.seq
	`, o.PlaybookID, o.StepKey(), seq)
	if err != nil {
		return 0, fmt.Errorf("record observation: index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record observation: commit: %w", err)
	}
	return seq, nil
}

// LastExecutions returns the latest attempt per step key for a playbook,
// keyed by "step_<node id>".
func (s *Store) LastExecutions(ctx context.Context, playbookID string) (map[string]playbook.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.seq, l.playbook_id, l.step_id, l.instance_id, l.in_ts, l.out_ts, l.output_port, l.bundle, l.error
		FROM observations o
		JOIN observation_log l ON l.seq = o.seq
		WHERE o.playbook_id = ?
		ORDER BY o.step_key COLLATE BINARY ASC
	`, playbookID)
	if err != nil {
		return nil, fmt.Errorf("query last executions: %w", err)
	}
	defer rows.Close()

	out := map[string]playbook.Observation{}
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out[o.StepKey()] = o
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last executions: %w", err)
	}
	return out, nil
}

// ObservationHistory returns every recorded attempt for a playbook in the
// order they were recorded.
func (s *Store) ObservationHistory(ctx context.Context, playbookID string) ([]playbook.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, playbook_id, step_id, instance_id, in_ts, out_ts, output_port, bundle, error
		FROM observation_log
		WHERE playbook_id = ?
		ORDER BY seq ASC
	`, playbookID)
	if err != nil {
		return nil, fmt.Errorf("query observation history: %w", err)
	}
	defer rows.Close()

	history := []playbook.Observation{}
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation history: %w", err)
	}
	return history, nil
}

func scanObservation(row scanner) (playbook.Observation, error) {
	var (
		o          playbook.Observation
		in, out    int64
		bundleJSON sql.NullString
	)
	err := row.Scan(
		&o.Seq,
		&o.PlaybookID,
		&o.StepID,
		&o.InstanceID,
		&in,
		&out,
		&o.OutputPort,
		&bundleJSON,
		&o.Error,
	)
	if err != nil {
		return playbook.Observation{}, fmt.Errorf("scan observation: %w", err)
	}
	o.InTimestamp = fromNanos(in)
	o.OutTimestamp = fromNanos(out)
	if o.Bundle, err = unmarshalBundle(bundleJSON); err != nil {
		return playbook.Observation{}, fmt.Errorf("observation %d: %w", o.Seq, err)
	}
	return o, nil
}
