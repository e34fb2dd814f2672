package stream

import (
	"context"
	"errors"

	"github.com/roach88/playbookd/internal/playbook"
)

// ErrClosed is returned by Next after the cursor has been closed.
var ErrClosed = errors.New("stream: cursor closed")

// Position is where a cursor starts reading.
type Position struct {
	live  bool
	after int64
}

// Live positions a cursor at the head of the log: only events appended after
// Open are delivered.
var Live = Position{live: true}

// After positions a cursor just past seq.
func After(seq int64) Position {
	return Position{after: seq}
}

// IsLive reports whether p is the live position.
func (p Position) IsLive() bool {
	return p.live
}

// Seq returns the offset an After position starts from.
func (p Position) Seq() int64 {
	return p.after
}

// Batch is a non-empty, seq-ordered run of events.
type Batch struct {
	Events []playbook.ChangeEvent
}

// Last returns the seq of the final event, or 0 for an empty batch.
func (b Batch) Last() int64 {
	if len(b.Events) == 0 {
		return 0
	}
	return b.Events[len(b.Events)-1].Seq
}

// Cursor reads batches from an open stream. A Cursor is used by one
// goroutine at a time.
type Cursor interface {
	// Next blocks until a batch is available or ctx is done.
	Next(ctx context.Context) (Batch, error)

	// Close releases the cursor. Subsequent Next calls return ErrClosed.
	Close() error
}

// Source opens cursors over the change log.
type Source interface {
	Open(ctx context.Context, pos Position) (Cursor, error)
}
