package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/playbookd/internal/playbook"
)

// SavePlaybook inserts or replaces a playbook. CreatedAt is preserved for
// existing rows; UpdatedAt is always overwritten.
func (s *Store) SavePlaybook(ctx context.Context, p playbook.Playbook) error {
	if p.ID == "" {
		return fmt.Errorf("save playbook: empty id")
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playbooks (id, name, definition, start_node, running, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			start_node = excluded.start_node,
			running = excluded.running,
			updated_at = excluded.updated_at
	`,
		p.ID,
		p.Name,
		p.Definition,
		p.Start,
		p.Running,
		toNanos(p.CreatedAt),
		toNanos(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save playbook: %w", err)
	}
	return nil
}

// FindPlaybook returns the playbook with the given id, or ErrNotFound.
func (s *Store) FindPlaybook(ctx context.Context, id string) (playbook.Playbook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, definition, start_node, running, created_at, updated_at
		FROM playbooks
		WHERE id = ?
	`, id)
	p, err := scanPlaybook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return playbook.Playbook{}, fmt.Errorf("playbook %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return playbook.Playbook{}, fmt.Errorf("find playbook: %w", err)
	}
	return p, nil
}

// FindRunningPlaybooks returns every playbook with the running flag set,
// ordered by id.
func (s *Store) FindRunningPlaybooks(ctx context.Context) ([]playbook.Playbook, error) {
	return s.queryPlaybooks(ctx, `
		SELECT id, name, definition, start_node, running, created_at, updated_at
		FROM playbooks
		WHERE running = 1
		ORDER BY id COLLATE BINARY ASC
	`)
}

// ListPlaybooks returns all playbooks ordered by id.
func (s *Store) ListPlaybooks(ctx context.Context) ([]playbook.Playbook, error) {
	return s.queryPlaybooks(ctx, `
		SELECT id, name, definition, start_node, running, created_at, updated_at
		FROM playbooks
		ORDER BY id COLLATE BINARY ASC
	`)
}

// SetRunning flips a playbook's running flag. Returns ErrNotFound when the
// playbook does not exist.
func (s *Store) SetRunning(ctx context.Context, id string, running bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE playbooks SET running = ?, updated_at = ? WHERE id = ?
	`, running, toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("playbook %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) queryPlaybooks(ctx context.Context, query string) ([]playbook.Playbook, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query playbooks: %w", err)
	}
	defer rows.Close()

	playbooks := []playbook.Playbook{}
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan playbook: %w", err)
		}
		playbooks = append(playbooks, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate playbooks: %w", err)
	}
	return playbooks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlaybook(row scanner) (playbook.Playbook, error) {
	var (
		p                playbook.Playbook
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Definition, &p.Start, &p.Running, &created, &updated); err != nil {
		return playbook.Playbook{}, err
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}
