package harness

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s/%s", ev.Seq, ev.PlaybookID, ev.StepID)
		if ev.OutputPort != "" {
			fmt.Fprintf(&buf, " -> %s", ev.OutputPort)
		}
		if ev.Error != "" {
			fmt.Fprintf(&buf, " error=%q", ev.Error)
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertStepExecuted:
		return assertStepExecuted(result, a)
	case AssertStepFailed:
		return assertStepFailed(result, a)
	case AssertStepNotExecuted:
		return assertStepNotExecuted(result, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertBundleContains:
		return assertBundleContains(result, a)
	case AssertPendingCallback:
		return assertPendingCallbacks(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertStepExecuted checks that the step's latest attempt succeeded, on
// a.Port when one is given.
func assertStepExecuted(result *Result, a Assertion) error {
	ev, ok := result.latest(a.Playbook, a.Step)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("step %s/%s executed", a.Playbook, a.Step),
			Actual:   "not found in trace",
			Trace:    result.Trace,
		}
	}
	if ev.Error != "" {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("step %s/%s succeeded", a.Playbook, a.Step),
			Actual:   fmt.Sprintf("failed: %s", ev.Error),
			Trace:    result.Trace,
		}
	}
	if a.Port != "" && ev.OutputPort != a.Port {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("step %s/%s on port %q", a.Playbook, a.Step, a.Port),
			Actual:   fmt.Sprintf("port %q", ev.OutputPort),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertStepFailed(result *Result, a Assertion) error {
	ev, ok := result.latest(a.Playbook, a.Step)
	if !ok || ev.Error == "" {
		actual := "not found in trace"
		if ok {
			actual = "succeeded"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("step %s/%s failed", a.Playbook, a.Step),
			Actual:   actual,
			Trace:    result.Trace,
		}
	}
	if a.Error != "" && !strings.Contains(ev.Error, a.Error) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("error containing %q", a.Error),
			Actual:   ev.Error,
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertStepNotExecuted(result *Result, a Assertion) error {
	if ev, ok := result.latest(a.Playbook, a.Step); ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("no observation for %s/%s", a.Playbook, a.Step),
			Actual:   fmt.Sprintf("observed at seq %d", ev.Seq),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceOrder checks that steps were first observed in the given order.
// Steps don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.PlaybookID != a.Playbook {
			continue
		}
		if _, seen := positions[ev.StepID]; !seen {
			positions[ev.StepID] = i + 1 // 1-indexed for readability
		}
	}

	for _, step := range a.Steps {
		if positions[step] == 0 {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("all steps present: %v", a.Steps),
				Actual:   fmt.Sprintf("missing step: %s", step),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Steps); i++ {
		prev, curr := a.Steps[i-1], a.Steps[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("steps in order: %v", a.Steps),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the step was observed exactly a.Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.PlaybookID == a.Playbook && ev.StepID == a.Step {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d observations of %s/%s", a.Count, a.Playbook, a.Step),
			Actual:   fmt.Sprintf("%d observations", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertBundleContains compares fields of the first object in the step's
// latest bundle. Values are compared by their JSON encoding so YAML integers
// match decoded JSON numbers.
func assertBundleContains(result *Result, a Assertion) error {
	ev, ok := result.latest(a.Playbook, a.Step)
	if !ok || len(ev.Objects) == 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("bundle objects at %s/%s", a.Playbook, a.Step),
			Actual:   "no bundle objects",
			Trace:    result.Trace,
		}
	}

	obj := ev.Objects[0]
	for field, want := range a.Fields {
		got, present := obj[field]
		if !present {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("field %q = %v", field, want),
				Actual:   "field missing",
				Trace:    result.Trace,
			}
		}
		if !sameJSON(got, want) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("field %q = %v", field, want),
				Actual:   fmt.Sprintf("%v", got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertPendingCallbacks(result *Result, a Assertion) error {
	if len(result.Callbacks) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d pending callbacks", a.Count),
			Actual:   fmt.Sprintf("%d pending callbacks", len(result.Callbacks)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}
