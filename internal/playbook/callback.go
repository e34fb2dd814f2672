package playbook

import "time"

// Callback records a branch suspended by a non-internal component, holding
// the ids an external actor needs to resume it.
type Callback struct {
	ID             string     `json:"id"`
	PlaybookID     string     `json:"playbook_id"`
	StepID         string     `json:"step_id"`
	PreviousStepID string     `json:"previous_step_id"`
	InstanceID     string     `json:"instance_id"`
	Bundle         Bundle     `json:"bundle"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Pending reports whether the callback has not been resumed yet.
func (c Callback) Pending() bool {
	return c.ResolvedAt == nil
}
