package playbook

import "time"

// StepKeyPrefix prefixes the node id in an Observation's step key.
const StepKeyPrefix = "step_"

// StepKey returns the telemetry key for a node id.
func StepKey(nodeID string) string {
	return StepKeyPrefix + nodeID
}

// Observation is the telemetry envelope for one step attempt.
//
// Observations are write-only from the engine's point of view. Repeated
// visits of the same node share the same step key; the latest attempt wins.
type Observation struct {
	PlaybookID   string    `json:"playbook_id"`
	StepID       string    `json:"step_id"`
	InstanceID   string    `json:"instance_id,omitempty"`
	InTimestamp  time.Time `json:"in_timestamp"`
	OutTimestamp time.Time `json:"out_timestamp"`
	OutputPort   string    `json:"output_port,omitempty"`
	Bundle       *Bundle   `json:"bundle,omitempty"`
	Error        string    `json:"error,omitempty"`

	// Seq is the attempt sequence assigned by the observation store.
	Seq int64 `json:"seq,omitempty"`
}

// StepKey returns "step_<StepID>".
func (o Observation) StepKey() string {
	return StepKey(o.StepID)
}

// Failed reports whether the attempt recorded an error.
func (o Observation) Failed() bool {
	return o.Error != ""
}
