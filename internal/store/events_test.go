package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/playbookd/internal/playbook"
)

func TestAppendEvent_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.AppendEvent(ctx, playbook.EventCreate, map[string]any{"id": "a"})
	require.NoError(t, err)
	second, err := s.AppendEvent(ctx, playbook.EventUpdate, map[string]any{"id": "a", "n": 2})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	latest, err := s.LatestEventSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latest)
}

func TestAppendEvent_RejectsUnknownType(t *testing.T) {
	s := createTestStore(t)
	_, err := s.AppendEvent(context.Background(), playbook.EventType("rename"), nil)
	assert.Error(t, err)
}

func TestReadEvents_AfterAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var seqs []int64
	for _, id := range []string{"a", "b", "c", "d"} {
		seq, err := s.AppendEvent(ctx, playbook.EventCreate, map[string]any{"id": id})
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}

	events, err := s.ReadEvents(ctx, seqs[0], 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].EntityID())
	assert.Equal(t, "c", events[1].EntityID())
	assert.Equal(t, playbook.EventCreate, events[0].Type)

	rest, err := s.ReadEvents(ctx, seqs[2], 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, seqs[3], rest[0].Seq)

	none, err := s.ReadEvents(ctx, seqs[3], 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestReadEvents_NilDataBecomesEmptyObject(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.AppendEvent(ctx, playbook.EventDelete, nil)
	require.NoError(t, err)

	events, err := s.ReadEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{}, events[0].Data)
}

func TestLatestEventSeq_EmptyLog(t *testing.T) {
	s := createTestStore(t)
	seq, err := s.LatestEventSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestCheckpoint_NeverMovesBackwards(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ReadCheckpoint(ctx, "engine")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteCheckpoint(ctx, "engine", 10))
	require.NoError(t, s.WriteCheckpoint(ctx, "engine", 4))

	seq, ok, err := s.ReadCheckpoint(ctx, "engine")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), seq)

	require.NoError(t, s.WriteCheckpoint(ctx, "engine", 12))
	seq, _, err = s.ReadCheckpoint(ctx, "engine")
	require.NoError(t, err)
	assert.Equal(t, int64(12), seq)

	// Consumers are independent
	_, ok, err = s.ReadCheckpoint(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}
