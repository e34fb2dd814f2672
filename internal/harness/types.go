package harness

import "github.com/roach88/playbookd/internal/playbook"

// TraceEvent is one recorded step attempt, flattened for assertions and
// golden comparison. Timestamps are omitted; Seq orders attempts.
type TraceEvent struct {
	Seq        int64            `json:"seq"`
	PlaybookID string           `json:"playbook_id"`
	StepID     string           `json:"step_id"`
	InstanceID string           `json:"instance_id,omitempty"`
	OutputPort string           `json:"output_port,omitempty"`
	BundleID   string           `json:"bundle_id,omitempty"`
	Objects    []map[string]any `json:"objects,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// CallbackEvent is a pending callback left at the end of a scenario.
type CallbackEvent struct {
	ID         string `json:"id"`
	PlaybookID string `json:"playbook_id"`
	StepID     string `json:"step_id"`
	InstanceID string `json:"instance_id,omitempty"`
	BundleID   string `json:"bundle_id"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every observation across all playbooks, ordered by seq.
	Trace []TraceEvent `json:"trace"`

	// Callbacks holds the callbacks still pending after the last step.
	Callbacks []CallbackEvent `json:"callbacks"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Runs counts the runs each emit step started, in step order.
	Runs []int `json:"runs,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Callbacks: []CallbackEvent{},
		Errors:    []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddObservation appends an observation to the trace.
func (r *Result) AddObservation(o playbook.Observation) {
	ev := TraceEvent{
		Seq:        o.Seq,
		PlaybookID: o.PlaybookID,
		StepID:     o.StepID,
		InstanceID: o.InstanceID,
		OutputPort: o.OutputPort,
		Error:      o.Error,
	}
	if o.Bundle != nil {
		ev.BundleID = o.Bundle.ID
		ev.Objects = o.Bundle.Objects
	}
	r.Trace = append(r.Trace, ev)
}

// AddCallback appends a pending callback.
func (r *Result) AddCallback(cb playbook.Callback) {
	r.Callbacks = append(r.Callbacks, CallbackEvent{
		ID:         cb.ID,
		PlaybookID: cb.PlaybookID,
		StepID:     cb.StepID,
		InstanceID: cb.InstanceID,
		BundleID:   cb.Bundle.ID,
	})
}

// latest returns the last trace event of step in playbookID.
func (r *Result) latest(playbookID, step string) (TraceEvent, bool) {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		ev := r.Trace[i]
		if ev.PlaybookID == playbookID && ev.StepID == step {
			return ev, true
		}
	}
	return TraceEvent{}, false
}
