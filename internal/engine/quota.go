package engine

// DefaultMaxSteps is the default maximum number of steps per run.
const DefaultMaxSteps = 1000

// QuotaEnforcer counts the steps of one run and enforces a maximum.
//
// Each Executor.Execute call gets its own QuotaEnforcer. Cycles are legal in
// a playbook graph and are never deduplicated; the quota is what guarantees a
// cyclic run terminates.
type QuotaEnforcer struct {
	maxSteps int // <= 0 disables the limit
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
// A limit <= 0 never trips.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
//
// Returns a QUOTA_EXCEEDED RuntimeError once the count passes the limit.
// Call it before running each step.
func (q *QuotaEnforcer) Check(playbookID, stepID string) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return NewQuotaError(playbookID, stepID, q.current, q.maxSteps)
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}
