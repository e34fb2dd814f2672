package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/playbook"
)

// ErrCallbackResolved is returned by ResumeCallback for a callback that was
// already resumed.
var ErrCallbackResolved = errors.New("callback already resolved")

// ErrResumeRejected is returned by ResumeCallback when the recorded step can
// no longer be resumed.
var ErrResumeRejected = errors.New("resume rejected")

// PlaybookFinder loads a playbook by id. Implemented by store.Store.
type PlaybookFinder interface {
	FindPlaybook(ctx context.Context, id string) (playbook.Playbook, error)
}

// CallbackStore reads and resolves pending callbacks. Implemented by store.Store.
type CallbackStore interface {
	ReadCallback(ctx context.Context, id string) (playbook.Callback, error)

	// ResolveCallback must fail unless the callback is still pending.
	ResolveCallback(ctx context.Context, id string, at time.Time) error
}

// Resumer re-enters the Executor for branches suspended by non-internal
// components.
type Resumer struct {
	playbooks PlaybookFinder
	registry  *component.Registry
	executor  *Executor
	callbacks CallbackStore
	now       func() time.Time
}

// ResumerOption configures a Resumer.
type ResumerOption func(*Resumer)

// WithCallbacks enables ResumeCallback.
func WithCallbacks(cs CallbackStore) ResumerOption {
	return func(r *Resumer) {
		r.callbacks = cs
	}
}

// WithResumeClock sets the time recorded when a callback is resolved.
func WithResumeClock(now func() time.Time) ResumerOption {
	return func(r *Resumer) {
		r.now = now
	}
}

// NewResumer creates a Resumer.
func NewResumer(playbooks PlaybookFinder, registry *component.Registry, executor *Executor, opts ...ResumerOption) *Resumer {
	r := &Resumer{
		playbooks: playbooks,
		registry:  registry,
		executor:  executor,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resume continues a suspended branch at stepID, coming from previousStepID,
// with the caller's serialized bundle.
//
// Returns false, without writing any Observation, when the playbook, either
// node, either node's component, or the bundle cannot be resolved. Once the
// step is handed to the Executor the result is true: faults inside the run
// are recorded as Observations, not reported here.
//
// The previous and next nodes each resolve their own component; they are
// usually the same node.
func (r *Resumer) Resume(ctx context.Context, playbookID, stepID, previousStepID, instanceID, serializedBundle string) bool {
	run, err := r.prepare(ctx, playbookID, stepID, previousStepID, serializedBundle)
	if err != nil {
		slog.Warn("resume rejected",
			"playbook_id", playbookID,
			"step_id", stepID,
			"previous_step_id", previousStepID,
			"error", err,
		)
		return false
	}
	run.InstanceID = instanceID

	slog.Debug("resuming step",
		"playbook_id", playbookID,
		"step_id", stepID,
		"instance_id", instanceID,
	)
	r.executor.Execute(ctx, run)
	return true
}

func (r *Resumer) prepare(ctx context.Context, playbookID, stepID, previousStepID, serializedBundle string) (Run, error) {
	p, err := r.playbooks.FindPlaybook(ctx, playbookID)
	if err != nil {
		return Run{}, fmt.Errorf("load playbook: %w", err)
	}

	def, err := playbook.ParseDefinition([]byte(p.Definition))
	if err != nil {
		return Run{}, err
	}

	next, ok := def.Node(stepID)
	if !ok {
		return Run{}, fmt.Errorf("step %q not found", stepID)
	}
	prev, ok := def.Node(previousStepID)
	if !ok {
		return Run{}, fmt.Errorf("previous step %q not found", previousStepID)
	}

	nextComp, err := r.registry.Lookup(next.ComponentID)
	if err != nil {
		return Run{}, fmt.Errorf("step %q: %w", stepID, err)
	}
	prevComp, err := r.registry.Lookup(prev.ComponentID)
	if err != nil {
		return Run{}, fmt.Errorf("previous step %q: %w", previousStepID, err)
	}

	bundle, err := playbook.ParseBundle([]byte(serializedBundle))
	if err != nil {
		return Run{}, err
	}

	return Run{
		PlaybookID: p.ID,
		Definition: def,
		Previous:   &Step{Component: prevComp, Node: prev},
		Next:       Step{Component: nextComp, Node: next},
		Bundle:     bundle,
		External:   true,
	}, nil
}

// ResumeCallback resumes the branch recorded by a pending callback and marks
// the callback resolved. An empty serializedBundle reuses the bundle stored
// with the callback.
//
// The callback is claimed before the branch runs, so concurrent calls for the
// same id run it at most once; the losers get ErrCallbackResolved. A callback
// whose step can no longer be resumed is left pending.
func (r *Resumer) ResumeCallback(ctx context.Context, callbackID, serializedBundle string) error {
	if r.callbacks == nil {
		return fmt.Errorf("resume callback %q: no callback store configured", callbackID)
	}

	cb, err := r.callbacks.ReadCallback(ctx, callbackID)
	if err != nil {
		return fmt.Errorf("resume callback: %w", err)
	}
	if !cb.Pending() {
		return fmt.Errorf("resume callback %q: %w", callbackID, ErrCallbackResolved)
	}
	if serializedBundle == "" {
		serializedBundle = cb.Bundle.String()
	}

	run, err := r.prepare(ctx, cb.PlaybookID, cb.StepID, cb.PreviousStepID, serializedBundle)
	if err != nil {
		slog.Warn("resume callback rejected",
			"callback_id", callbackID,
			"playbook_id", cb.PlaybookID,
			"step_id", cb.StepID,
			"error", err,
		)
		return fmt.Errorf("resume callback %q: %w", callbackID, ErrResumeRejected)
	}
	run.InstanceID = cb.InstanceID

	if err := r.claim(ctx, callbackID); err != nil {
		return err
	}

	slog.Debug("resuming callback",
		"callback_id", callbackID,
		"playbook_id", cb.PlaybookID,
		"step_id", cb.StepID,
		"instance_id", cb.InstanceID,
	)
	r.executor.Execute(ctx, run)
	return nil
}

// claim resolves a pending callback. Losing a race to another resolver is
// reported as ErrCallbackResolved.
func (r *Resumer) claim(ctx context.Context, callbackID string) error {
	err := r.callbacks.ResolveCallback(ctx, callbackID, r.now().UTC())
	if err == nil {
		return nil
	}
	if cb, rerr := r.callbacks.ReadCallback(ctx, callbackID); rerr == nil && !cb.Pending() {
		return fmt.Errorf("resume callback %q: %w", callbackID, ErrCallbackResolved)
	}
	return fmt.Errorf("resume callback: %w", err)
}
