package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/playbookd/internal/compiler"
	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/engine"
	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/store"
	"github.com/roach88/playbookd/internal/stream"
	"github.com/roach88/playbookd/internal/testutil"
)

// Harness is the scenario execution environment: one store, one executor and
// the entry points wired to them with deterministic clock and ids.
type Harness struct {
	store    *store.Store
	clock    *testutil.FakeClock
	consumer *engine.Consumer
	resumer  *engine.Resumer
	cursor   stream.Cursor

	playbookIDs []string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Create fresh in-memory database and engine
//  2. Compile and import the scenario's playbooks
//  3. Execute steps in order, checking step expectations
//  4. Collect observations and pending callbacks
//  5. Evaluate assertions
//
// An error is returned only when the scenario cannot be set up; failed
// expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, st, scenario)
	if err != nil {
		return nil, err
	}
	defer h.cursor.Close()

	if err := h.importPlaybooks(ctx, scenario.Playbooks); err != nil {
		return nil, fmt.Errorf("failed to import playbooks: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to collect trace: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(ctx context.Context, st *store.Store, scenario *Scenario) (*Harness, error) {
	clock := testutil.NewFakeClock(testutil.Epoch, time.Millisecond)
	bundleIDs := testutil.NewFixedIDs("bundle")
	callbackIDs := testutil.NewFixedIDs("callback")

	registry, err := component.NewRegistry(component.Builtins(component.Deps{
		Callbacks: st,
		NewID:     callbackIDs.Generate,
		Now:       clock.Now,
	})...)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	execOpts := []engine.ExecutorOption{engine.WithNow(clock.Now)}
	if scenario.MaxSteps != nil {
		execOpts = append(execOpts, engine.WithMaxSteps(*scenario.MaxSteps))
	}
	executor := engine.NewExecutor(registry, st, execOpts...)

	// The harness reads the stream itself and hands events to HandleEvent,
	// so the consumer needs neither a source nor a locker.
	consumer := engine.NewConsumer(st, nil, nil, registry, executor,
		engine.WithIDGenerator(bundleIDs),
	)
	resumer := engine.NewResumer(st, registry, executor,
		engine.WithCallbacks(st),
		engine.WithResumeClock(clock.Now),
	)

	cursor, err := stream.NewPollingSource(st, stream.Options{}).Open(ctx, stream.After(0))
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	return &Harness{
		store:    st,
		clock:    clock,
		consumer: consumer,
		resumer:  resumer,
		cursor:   cursor,
	}, nil
}

// importPlaybooks compiles each file and saves its playbooks. Registry
// validation is skipped so broken playbooks can be scenario subjects; their
// faults are recorded at run time.
func (h *Harness) importPlaybooks(ctx context.Context, paths []string) error {
	for _, path := range paths {
		pbs, err := compiler.CompileFile(path)
		if err != nil {
			return err
		}
		for _, pb := range pbs {
			now := h.clock.Now()
			pb.CreatedAt, pb.UpdatedAt = now, now
			if err := h.store.SavePlaybook(ctx, *pb); err != nil {
				return fmt.Errorf("save %s: %w", pb.ID, err)
			}
			h.playbookIDs = append(h.playbookIDs, pb.ID)
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	switch {
	case step.Emit != nil:
		return h.emit(ctx, index, step.Emit, result)

	case step.Resume != nil:
		r := step.Resume
		serialized := r.Raw
		if serialized == "" {
			id := r.BundleID
			if id == "" {
				id = fmt.Sprintf("resume-%d", index+1)
			}
			serialized = playbook.NewBundle(id, r.Objects...).String()
		}
		got := h.resumer.Resume(ctx, r.Playbook, r.Step, r.Previous, r.Instance, serialized)
		if want := expected(r.Expect); got != want {
			result.AddError(fmt.Sprintf("steps[%d]: resume %s/%s returned %t, expected %t", index, r.Playbook, r.Step, got, want))
		}
		return nil

	case step.ResumeCallback != nil:
		cs := step.ResumeCallback
		var serialized string
		if cs.Objects != nil {
			serialized = playbook.NewBundle(cs.Callback, cs.Objects...).String()
		}
		err := h.resumer.ResumeCallback(ctx, cs.Callback, serialized)
		if want := expected(cs.Expect); (err == nil) != want {
			result.AddError(fmt.Sprintf("steps[%d]: resume callback %s: err=%v, expected success=%t", index, cs.Callback, err, want))
		}
		return nil

	case step.Start != "":
		return h.store.SetRunning(ctx, step.Start, true)

	case step.Stop != "":
		return h.store.SetRunning(ctx, step.Stop, false)
	}

	return fmt.Errorf("empty step")
}

// emit appends the event and delivers it through the stream.
func (h *Harness) emit(ctx context.Context, index int, e *EmitStep, result *Result) error {
	typ, err := playbook.ParseEventType(e.Type)
	if err != nil {
		return err
	}
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	if _, err := h.store.AppendEvent(ctx, typ, data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	batch, err := h.cursor.Next(ctx)
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	runs := 0
	for _, ev := range batch.Events {
		n, err := h.consumer.HandleEvent(ctx, ev)
		if err != nil {
			return fmt.Errorf("handle event %d: %w", ev.Seq, err)
		}
		runs += n
	}
	result.Runs = append(result.Runs, runs)

	if e.Runs != nil && *e.Runs != runs {
		result.AddError(fmt.Sprintf("steps[%d]: emit %s started %d runs, expected %d", index, e.Type, runs, *e.Runs))
	}
	return nil
}

// collect loads every observation and pending callback into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, id := range h.playbookIDs {
		history, err := h.store.ObservationHistory(ctx, id)
		if err != nil {
			return err
		}
		for _, o := range history {
			result.AddObservation(o)
		}
	}
	sort.SliceStable(result.Trace, func(i, j int) bool {
		return result.Trace[i].Seq < result.Trace[j].Seq
	})

	pending, err := h.store.ListPendingCallbacks(ctx, "")
	if err != nil {
		return err
	}
	for _, cb := range pending {
		result.AddCallback(cb)
	}
	return nil
}

func expected(b *bool) bool {
	return b == nil || *b
}
