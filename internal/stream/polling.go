package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/playbookd/internal/playbook"
)

// Polling defaults.
const (
	DefaultBatchSize    = 100
	DefaultPollInterval = 500 * time.Millisecond
)

// EventReader is the read side of the event log. Implemented by store.Store.
type EventReader interface {
	ReadEvents(ctx context.Context, after int64, limit int) ([]playbook.ChangeEvent, error)
	LatestEventSeq(ctx context.Context) (int64, error)
}

// Options configure a PollingSource.
type Options struct {
	// BatchSize caps the number of events per batch.
	BatchSize int

	// PollInterval is how long Next sleeps when the log has nothing new.
	PollInterval time.Duration
}

// PollingSource turns an EventReader into a Source by polling for events
// past the cursor's offset.
type PollingSource struct {
	reader EventReader
	opts   Options
}

// NewPollingSource creates a polling source. Zero options take defaults.
func NewPollingSource(reader EventReader, opts Options) *PollingSource {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &PollingSource{reader: reader, opts: opts}
}

// Open resolves pos to a concrete offset and returns a cursor reading from it.
func (s *PollingSource) Open(ctx context.Context, pos Position) (Cursor, error) {
	after := pos.Seq()
	if pos.IsLive() {
		latest, err := s.reader.LatestEventSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("open stream: %w", err)
		}
		after = latest
	}

	slog.Debug("stream opened", "after", after, "live", pos.IsLive())
	return &pollingCursor{source: s, after: after}, nil
}

type pollingCursor struct {
	source *PollingSource

	mu     sync.Mutex
	after  int64
	closed bool
}

func (c *pollingCursor) Next(ctx context.Context) (Batch, error) {
	for {
		c.mu.Lock()
		closed, after := c.closed, c.after
		c.mu.Unlock()
		if closed {
			return Batch{}, ErrClosed
		}

		events, err := c.source.reader.ReadEvents(ctx, after, c.source.opts.BatchSize)
		if err != nil {
			return Batch{}, fmt.Errorf("poll events: %w", err)
		}
		if len(events) > 0 {
			batch := Batch{Events: events}
			c.mu.Lock()
			c.after = batch.Last()
			c.mu.Unlock()
			return batch, nil
		}

		timer := time.NewTimer(c.source.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Batch{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *pollingCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
