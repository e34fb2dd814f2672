package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/store"
)

const p2Definition = `{
	"nodes": {
		"start": {"component_id": "comp.ext", "configuration": {"create": true}},
		"sink":  {"component_id": "comp.sink"}
	},
	"links": [{"from": {"id": "start", "port": "out"}, "to": {"id": "sink"}}]
}`

func setupResumer(t *testing.T) (*Resumer, *store.Store, *spy) {
	t.Helper()
	s := setupTestStore(t)
	p := &spy{}
	reg := component.MustRegistry(p.external("comp.ext", "out"), p.passthrough("comp.sink", ""))

	require.NoError(t, s.SavePlaybook(context.Background(), playbook.Playbook{
		ID:         "P2",
		Definition: p2Definition,
		Start:      "start",
		Running:    true,
	}))

	exec := newTestExecutor(reg, s)
	return NewResumer(s, reg, exec, WithCallbacks(s)), s, p
}

func TestResume_RunsExecuteFromStep(t *testing.T) {
	r, s, p := setupResumer(t)
	ctx := context.Background()

	ok := r.Resume(ctx, "P2", "start", "start", "x1", `{"id":"b1","type":"bundle","objects":[{"id":"x1"}]}`)
	require.True(t, ok)

	assert.Equal(t, []string{"execute:start", "execute:sink"}, p.order())

	last, err := s.LastExecutions(ctx, "P2")
	require.NoError(t, err)
	require.Contains(t, last, "step_start")
	require.Contains(t, last, "step_sink")
	assert.Equal(t, "x1", last["step_start"].InstanceID)
	assert.Equal(t, "b1", last["step_start"].Bundle.ID)

	start := p.callsTo("start")[0].inv
	assert.Nil(t, start.PreviousBundle)
	require.NotNil(t, start.PreviousInstance)
	assert.Equal(t, "start", start.PreviousInstance.ID)
}

func TestResume_RejectsWithoutObservation(t *testing.T) {
	r, s, p := setupResumer(t)
	ctx := context.Background()
	bundle := `{"id":"b1","type":"bundle","objects":[]}`

	tests := []struct {
		name                         string
		playbookID, step, prev, body string
	}{
		{"unknown playbook", "nope", "start", "start", bundle},
		{"unknown step", "P2", "missing", "start", bundle},
		{"unknown previous step", "P2", "start", "missing", bundle},
		{"invalid bundle", "P2", "start", "start", `{"id":"b1","type":"thing"}`},
		{"malformed bundle", "P2", "start", "start", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, r.Resume(ctx, tt.playbookID, tt.step, tt.prev, "x1", tt.body))
		})
	}

	assert.Empty(t, p.order())
	history, err := s.ObservationHistory(ctx, "P2")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestResume_UnknownComponentRejected(t *testing.T) {
	r, s, _ := setupResumer(t)
	ctx := context.Background()
	require.NoError(t, s.SavePlaybook(ctx, playbook.Playbook{
		ID:         "P3",
		Definition: `{"nodes": {"start": {"component_id": "gone"}}, "links": []}`,
		Start:      "start",
	}))

	assert.False(t, r.Resume(ctx, "P3", "start", "start", "x1", `{"id":"b1","type":"bundle","objects":[]}`))
}

func TestResumeCallback_ResolvesPendingCallback(t *testing.T) {
	r, s, p := setupResumer(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCallback(ctx, playbook.Callback{
		ID:             "cb-1",
		PlaybookID:     "P2",
		StepID:         "start",
		PreviousStepID: "start",
		InstanceID:     "x1",
		Bundle:         playbook.NewBundle("stored", map[string]any{"id": "x1"}),
		CreatedAt:      time.Now(),
	}))

	require.NoError(t, r.ResumeCallback(ctx, "cb-1", ""))
	assert.Equal(t, "stored", p.callsTo("start")[0].inv.Bundle.ID)

	cb, err := s.ReadCallback(ctx, "cb-1")
	require.NoError(t, err)
	assert.False(t, cb.Pending())

	err = r.ResumeCallback(ctx, "cb-1", "")
	assert.ErrorIs(t, err, ErrCallbackResolved)

	err = r.ResumeCallback(ctx, "cb-unknown", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResumeCallback_RejectedStaysPending(t *testing.T) {
	r, s, _ := setupResumer(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCallback(ctx, playbook.Callback{
		ID:             "cb-2",
		PlaybookID:     "P2",
		StepID:         "removed",
		PreviousStepID: "removed",
		Bundle:         playbook.NewBundle("b"),
	}))

	err := r.ResumeCallback(ctx, "cb-2", "")
	assert.ErrorIs(t, err, ErrResumeRejected)

	cb, err := s.ReadCallback(ctx, "cb-2")
	require.NoError(t, err)
	assert.True(t, cb.Pending())
}

func writePendingCallback(t *testing.T, s *store.Store, id string) {
	t.Helper()
	require.NoError(t, s.WriteCallback(context.Background(), playbook.Callback{
		ID:             id,
		PlaybookID:     "P2",
		StepID:         "start",
		PreviousStepID: "start",
		InstanceID:     "x1",
		Bundle:         playbook.NewBundle("stored", map[string]any{"id": "x1"}),
		CreatedAt:      time.Now(),
	}))
}

// claimedElsewhere resolves the callback on behalf of another caller right
// before this caller's own claim.
type claimedElsewhere struct {
	*store.Store
}

func (c claimedElsewhere) ResolveCallback(ctx context.Context, id string, at time.Time) error {
	if err := c.Store.ResolveCallback(ctx, id, at); err != nil {
		return err
	}
	return c.Store.ResolveCallback(ctx, id, at)
}

func TestResumeCallback_LostClaimDoesNotRun(t *testing.T) {
	base, s, p := setupResumer(t)
	writePendingCallback(t, s, "cb-race")
	r := NewResumer(s, base.registry, base.executor, WithCallbacks(claimedElsewhere{s}))

	err := r.ResumeCallback(context.Background(), "cb-race", "")
	assert.ErrorIs(t, err, ErrCallbackResolved)
	assert.Empty(t, p.order())

	history, err := s.ObservationHistory(context.Background(), "P2")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestResumeCallback_ConcurrentCallsRunOnce(t *testing.T) {
	r, s, p := setupResumer(t)
	writePendingCallback(t, s, "cb-many")

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.ResumeCallback(context.Background(), "cb-many", "")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrCallbackResolved), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, p.callsTo("start"), 1)
	assert.Len(t, p.callsTo("sink"), 1)
}
