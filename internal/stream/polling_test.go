package stream_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/store"
	"github.com/roach88/playbookd/internal/stream"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "stream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendEvent(t *testing.T, s *store.Store, typ playbook.EventType, id string) int64 {
	t.Helper()
	seq, err := s.AppendEvent(context.Background(), typ, map[string]any{"id": id})
	require.NoError(t, err)
	return seq
}

func TestPollingSource_LiveSkipsExistingEvents(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	appendEvent(t, s, playbook.EventCreate, "old")

	src := stream.NewPollingSource(s, stream.Options{PollInterval: 5 * time.Millisecond})
	cur, err := src.Open(ctx, stream.Live)
	require.NoError(t, err)
	defer cur.Close()

	seq := appendEvent(t, s, playbook.EventUpdate, "new")

	batch, err := cur.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "new", batch.Events[0].EntityID())
	assert.Equal(t, playbook.EventUpdate, batch.Events[0].Type)
	assert.Equal(t, seq, batch.Last())
}

func TestPollingSource_AfterReplaysInOrder(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	first := appendEvent(t, s, playbook.EventCreate, "a")
	appendEvent(t, s, playbook.EventCreate, "b")
	appendEvent(t, s, playbook.EventDelete, "c")

	src := stream.NewPollingSource(s, stream.Options{BatchSize: 1, PollInterval: time.Millisecond})
	cur, err := src.Open(ctx, stream.After(first))
	require.NoError(t, err)
	defer cur.Close()

	var ids []string
	for i := 0; i < 2; i++ {
		batch, err := cur.Next(ctx)
		require.NoError(t, err)
		require.Len(t, batch.Events, 1)
		ids = append(ids, batch.Events[0].EntityID())
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestPollingSource_NextHonorsContext(t *testing.T) {
	s := setupStore(t)
	src := stream.NewPollingSource(s, stream.Options{PollInterval: time.Millisecond})
	cur, err := src.Open(context.Background(), stream.Live)
	require.NoError(t, err)
	defer cur.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = cur.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPollingSource_ClosedCursor(t *testing.T) {
	s := setupStore(t)
	src := stream.NewPollingSource(s, stream.Options{})
	cur, err := src.Open(context.Background(), stream.After(0))
	require.NoError(t, err)
	require.NoError(t, cur.Close())

	_, err = cur.Next(context.Background())
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestPosition(t *testing.T) {
	assert.True(t, stream.Live.IsLive())
	assert.False(t, stream.After(7).IsLive())
	assert.Equal(t, int64(7), stream.After(7).Seq())
	assert.Equal(t, int64(0), stream.Batch{}.Last())
}
