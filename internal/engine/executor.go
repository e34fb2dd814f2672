package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/playbook"
)

const tracerName = "github.com/roach88/playbookd/internal/engine"

// Recorder persists Observations. Implemented by store.Store.
type Recorder interface {
	RecordObservation(ctx context.Context, o playbook.Observation) (int64, error)
}

// Step pairs a graph node with the component it places.
type Step struct {
	Component *component.Component
	Node      *playbook.Node
}

// Run is the input to Executor.Execute.
type Run struct {
	PlaybookID string
	InstanceID string
	Definition *playbook.Definition

	// Previous is nil for the entry step of a run.
	Previous *Step
	Next     Step

	PreviousBundle *playbook.Bundle
	Bundle         playbook.Bundle

	// External marks a resumed call: Execute runs even for non-internal
	// components.
	External bool
}

// Executor walks a playbook graph.
//
// Thread-safety: an Executor holds no per-run state and is safe for
// concurrent use; each Execute call owns its work stack and quota.
type Executor struct {
	registry *component.Registry
	recorder Recorder
	now      func() time.Time
	tracer   trace.Tracer
	maxSteps int
}

// ExecutorOption allows configuration of executor parameters.
type ExecutorOption func(*Executor)

// WithMaxSteps sets the maximum steps per run.
//
// Default: 1000 steps (DefaultMaxSteps). Zero disables the limit.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(e *Executor) {
		e.maxSteps = maxSteps
	}
}

// WithNow sets the time source for observation timestamps.
func WithNow(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// WithTracerProvider sets the provider step spans are created from.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// NewExecutor creates an Executor resolving components from registry and
// recording observations to recorder.
func NewExecutor(registry *component.Registry, recorder Recorder, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		recorder: recorder,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the graph from run.Next until every branch has ended,
// suspended, or failed.
//
// ERROR HANDLING: Execute never returns an error. A failing step records an
// Observation with its error and ends its own branch; pending siblings still
// run. Only an exhausted step quota stops the whole run.
func (e *Executor) Execute(ctx context.Context, run Run) {
	if run.Definition == nil || run.Next.Node == nil {
		slog.Error("execute called without definition or step", "playbook_id", run.PlaybookID)
		return
	}
	def := run.Definition

	entry := workItem{
		prev:       -1,
		next:       def.Index(run.Next.Node.ID),
		stepID:     run.Next.Node.ID,
		prevBundle: run.PreviousBundle,
		bundle:     run.Bundle,
		external:   run.External,
	}
	if entry.next < 0 {
		entry.fault = NewUnsupportedError(run.PlaybookID, run.Next.Node.ID, nil, "node %q is not part of the definition", run.Next.Node.ID)
	} else if c := run.Next.Component; c != nil && c.ID != def.Nodes[entry.next].ComponentID {
		entry.fault = NewUnsupportedError(run.PlaybookID, run.Next.Node.ID, nil,
			"step component %q does not match node component %q", c.ID, def.Nodes[entry.next].ComponentID)
	}
	if run.Previous != nil && run.Previous.Node != nil {
		entry.prev = def.Index(run.Previous.Node.ID)
	}

	stack := newWorkStack()
	stack.push(entry)
	quota := NewQuotaEnforcer(e.maxSteps)

	for {
		item, ok := stack.pop()
		if !ok {
			slog.Debug("run finished",
				"playbook_id", run.PlaybookID,
				"instance_id", run.InstanceID,
				"steps", quota.Current(),
			)
			return
		}

		if err := quota.Check(run.PlaybookID, item.stepID); err != nil {
			item.fault = err
			e.step(ctx, run, item)
			slog.Warn("run stopped",
				"playbook_id", run.PlaybookID,
				"instance_id", run.InstanceID,
				"steps", quota.Current(),
				"max_steps", quota.MaxSteps(),
				"pending", stack.Len(),
				"error", err,
			)
			return
		}

		stack.push(e.step(ctx, run, item)...)
	}
}

// step runs one work item and returns the children to schedule.
func (e *Executor) step(ctx context.Context, run Run, item workItem) []workItem {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "playbook.step", trace.WithAttributes(
		attribute.String("playbook.id", run.PlaybookID),
		attribute.String("step.id", item.stepID),
	))
	defer span.End()

	res, executed, err := e.invoke(ctx, run, item, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		input := item.bundle
		e.record(ctx, playbook.Observation{
			PlaybookID:   run.PlaybookID,
			StepID:       item.stepID,
			InstanceID:   run.InstanceID,
			InTimestamp:  start,
			OutTimestamp: e.now(),
			Bundle:       &input,
			Error:        err.Error(),
		})
		slog.Warn("step failed",
			"playbook_id", run.PlaybookID,
			"step_id", item.stepID,
			"error", err,
		)
		return nil
	}

	if !executed {
		slog.Debug("step suspended",
			"playbook_id", run.PlaybookID,
			"step_id", item.stepID,
		)
		return nil
	}

	span.SetAttributes(attribute.String("step.output_port", res.OutputPort))
	output := res.Bundle
	e.record(ctx, playbook.Observation{
		PlaybookID:   run.PlaybookID,
		StepID:       item.stepID,
		InstanceID:   run.InstanceID,
		InTimestamp:  start,
		OutTimestamp: e.now(),
		OutputPort:   res.OutputPort,
		Bundle:       &output,
	})

	if res.OutputPort == "" {
		return nil
	}
	return e.children(run, item, res)
}

// invoke resolves and calls the item's component. executed is false when the
// branch was handed to Notify.
func (e *Executor) invoke(ctx context.Context, run Run, item workItem, span trace.Span) (res component.Result, executed bool, err error) {
	if item.fault != nil {
		return res, false, item.fault
	}

	def := run.Definition
	node := &def.Nodes[item.next]
	span.SetAttributes(attribute.String("component.id", node.ComponentID))

	comp, err := e.registry.Lookup(node.ComponentID)
	if err != nil {
		return res, false, NewUnsupportedError(run.PlaybookID, node.ID, err, "cannot resolve component")
	}

	cfg, err := e.registry.DecodeConfig(node.ComponentID, node.Configuration)
	if err != nil {
		return res, false, NewUnsupportedError(run.PlaybookID, node.ID, err, "cannot decode configuration")
	}

	inv := component.Invocation{
		InstanceID:     run.InstanceID,
		PlaybookID:     run.PlaybookID,
		Instance:       node,
		Config:         cfg,
		PreviousBundle: item.prevBundle,
		Bundle:         item.bundle,
	}
	if item.prev >= 0 {
		inv.PreviousInstance = &def.Nodes[item.prev]
	}

	defer func() {
		if r := recover(); r != nil {
			err = NewComponentError(run.PlaybookID, node.ID, comp.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	if comp.Internal || item.external {
		if comp.Execute == nil {
			return res, false, NewUnsupportedError(run.PlaybookID, node.ID, nil, "component %q cannot be resumed", comp.ID)
		}
		res, err = comp.Execute(ctx, inv)
		if err != nil {
			return res, false, NewComponentError(run.PlaybookID, node.ID, comp.ID, err)
		}
		return res, true, nil
	}

	if comp.Notify == nil {
		return res, false, NewUnsupportedError(run.PlaybookID, node.ID, nil, "component %q has no notify", comp.ID)
	}
	if err := comp.Notify(ctx, inv); err != nil {
		return res, false, NewComponentError(run.PlaybookID, node.ID, comp.ID, err)
	}
	return res, false, nil
}

// children resolves the links leaving item's node through the fired port.
// A port with no links ends the branch.
func (e *Executor) children(run Run, item workItem, res component.Result) []workItem {
	links := run.Definition.Outgoing(item.next, res.OutputPort)
	if len(links) == 0 {
		return nil
	}

	parent := item.bundle
	out := make([]workItem, 0, len(links))
	for _, l := range links {
		child := workItem{
			prev:       item.next,
			next:       l.ToIndex,
			stepID:     l.To.ID,
			prevBundle: &parent,
			bundle:     res.Bundle,
		}
		if l.ToIndex < 0 {
			child.fault = NewUnsupportedError(run.PlaybookID, l.To.ID, nil,
				"link %s.%s -> %s references a missing node", l.From.ID, l.From.Port, l.To.ID)
		}
		out = append(out, child)
	}
	return out
}

// record writes an observation. Failures are logged and otherwise ignored.
func (e *Executor) record(ctx context.Context, o playbook.Observation) {
	if e.recorder == nil {
		return
	}
	if _, err := e.recorder.RecordObservation(ctx, o); err != nil {
		slog.Warn("record observation failed",
			"playbook_id", o.PlaybookID,
			"step_id", o.StepID,
			"error", err,
		)
	}
}
