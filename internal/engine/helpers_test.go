package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/store"
	"github.com/roach88/playbookd/internal/testutil"
)

// setupTestStore creates a SQLite store in a temp dir.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// memRecorder keeps observations in memory, in write order.
type memRecorder struct {
	mu  sync.Mutex
	obs []playbook.Observation
	err error
}

func (m *memRecorder) RecordObservation(_ context.Context, o playbook.Observation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.obs = append(m.obs, o)
	return int64(len(m.obs)), nil
}

func (m *memRecorder) all() []playbook.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]playbook.Observation(nil), m.obs...)
}

func (m *memRecorder) steps() []string {
	var out []string
	for _, o := range m.all() {
		out = append(out, o.StepKey())
	}
	return out
}

// call is one captured component invocation.
type call struct {
	kind string // "execute" or "notify"
	inv  component.Invocation
}

// spy records every call made to the components it builds.
type spy struct {
	mu    sync.Mutex
	calls []call
}

func (p *spy) add(kind string, inv component.Invocation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{kind: kind, inv: inv})
}

func (p *spy) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		out = append(out, c.kind+":"+c.inv.Instance.ID)
	}
	return out
}

func (p *spy) callsTo(nodeID string) []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []call
	for _, c := range p.calls {
		if c.inv.Instance.ID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// passthrough is an internal component forwarding the bundle on port.
func (p *spy) passthrough(id, port string) component.Component {
	return component.Component{
		ID:       id,
		Internal: true,
		Execute: func(_ context.Context, inv component.Invocation) (component.Result, error) {
			p.add("execute", inv)
			return component.Result{Bundle: inv.Bundle, OutputPort: port}, nil
		},
	}
}

// failing is an internal component that always errors.
func (p *spy) failing(id string) component.Component {
	return component.Component{
		ID:       id,
		Internal: true,
		Execute: func(_ context.Context, inv component.Invocation) (component.Result, error) {
			p.add("execute", inv)
			return component.Result{}, errors.New("boom")
		},
	}
}

// external is a non-internal component; Execute is used on resumption.
func (p *spy) external(id, port string) component.Component {
	return component.Component{
		ID:       id,
		Internal: false,
		Notify: func(_ context.Context, inv component.Invocation) error {
			p.add("notify", inv)
			return nil
		},
		Execute: func(_ context.Context, inv component.Invocation) (component.Result, error) {
			p.add("execute", inv)
			return component.Result{Bundle: inv.Bundle, OutputPort: port}, nil
		},
	}
}

func mustDefinition(t *testing.T, doc string) *playbook.Definition {
	t.Helper()
	def, err := playbook.ParseDefinition([]byte(doc))
	require.NoError(t, err)
	return def
}

// entryRun builds the Run the consumer would start for nodeID.
func entryRun(t *testing.T, def *playbook.Definition, nodeID string, b playbook.Bundle) Run {
	t.Helper()
	n, ok := def.Node(nodeID)
	require.True(t, ok, "node %q", nodeID)
	return Run{
		PlaybookID:     "p1",
		InstanceID:     "x1",
		Definition:     def,
		Next:           Step{Node: n},
		PreviousBundle: &b,
		Bundle:         b,
	}
}

func newTestExecutor(reg *component.Registry, rec Recorder, opts ...ExecutorOption) *Executor {
	clock := testutil.NewFakeClock(testutil.Epoch, time.Millisecond)
	return NewExecutor(reg, rec, append([]ExecutorOption{WithNow(clock.Now)}, opts...)...)
}
