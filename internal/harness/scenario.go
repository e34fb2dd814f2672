package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/playbookd/internal/playbook"
)

// Scenario defines an end-to-end playbook scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Playbooks lists CUE files to compile and import.
	// Paths are relative to the scenario file location.
	Playbooks []string `yaml:"playbooks"`

	// MaxSteps overrides the executor step quota. Nil keeps the default.
	MaxSteps *int `yaml:"max_steps,omitempty"`

	// Steps run in order after the playbooks are imported.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one scenario action.
type Step struct {
	Emit           *EmitStep     `yaml:"emit,omitempty"`
	Resume         *ResumeStep   `yaml:"resume,omitempty"`
	ResumeCallback *CallbackStep `yaml:"resume_callback,omitempty"`

	// Start and Stop toggle a playbook's running flag.
	Start string `yaml:"start,omitempty"`
	Stop  string `yaml:"stop,omitempty"`
}

// EmitStep appends a change event to the stream.
type EmitStep struct {
	Type string         `yaml:"type"`
	Data map[string]any `yaml:"data"`

	// Runs, when set, is the number of runs the event must start.
	Runs *int `yaml:"runs,omitempty"`
}

// ResumeStep calls the resumption entry point.
type ResumeStep struct {
	Playbook string `yaml:"playbook"`
	Step     string `yaml:"step"`
	Previous string `yaml:"previous"`
	Instance string `yaml:"instance"`

	// BundleID and Objects build the serialized bundle. Raw, when set, is
	// sent verbatim instead.
	BundleID string           `yaml:"bundle_id,omitempty"`
	Objects  []map[string]any `yaml:"objects,omitempty"`
	Raw      string           `yaml:"raw,omitempty"`

	// Expect is the expected return value. Defaults to true.
	Expect *bool `yaml:"expect,omitempty"`
}

// CallbackStep resumes a pending callback.
type CallbackStep struct {
	Callback string `yaml:"callback"`

	// Objects replaces the stored bundle's objects when set.
	Objects []map[string]any `yaml:"objects,omitempty"`

	// Expect is whether the resumption must succeed. Defaults to true.
	Expect *bool `yaml:"expect,omitempty"`
}

// Assertion validates the final trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Playbook string `yaml:"playbook,omitempty"`
	Step     string `yaml:"step,omitempty"`

	// Port is the expected output port (step_executed). Empty matches any.
	Port string `yaml:"port,omitempty"`

	// Error is a substring of the expected error (step_failed).
	Error string `yaml:"error,omitempty"`

	// Steps is the expected first-observation order (trace_order).
	Steps []string `yaml:"steps,omitempty"`

	// Count is the expected number (trace_count, pending_callbacks).
	Count int `yaml:"count,omitempty"`

	// Fields are expected values in the step's bundle (bundle_contains).
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertStepExecuted    = "step_executed"
	AssertStepFailed      = "step_failed"
	AssertStepNotExecuted = "step_not_executed"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertBundleContains  = "bundle_contains"
	AssertPendingCallback = "pending_callbacks"
)

// LoadScenario reads and parses a scenario YAML file.
// Playbook paths are resolved relative to the file's directory. Returns an
// error if the file doesn't exist, is malformed, contains unknown fields, or
// is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, p := range scenario.Playbooks {
		if !filepath.IsAbs(p) {
			scenario.Playbooks[i] = filepath.Join(base, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Playbooks) == 0 {
		return fmt.Errorf("playbooks list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.MaxSteps != nil && *s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	for _, p := range s.Playbooks {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("playbook file not found: %s", p)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	set := 0
	for _, ok := range []bool{s.Emit != nil, s.Resume != nil, s.ResumeCallback != nil, s.Start != "", s.Stop != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of emit, resume, resume_callback, start, stop is required", index)
	}

	switch {
	case s.Emit != nil:
		if _, err := playbook.ParseEventType(s.Emit.Type); err != nil {
			return fmt.Errorf("steps[%d].emit: %w", index, err)
		}
	case s.Resume != nil:
		if s.Resume.Playbook == "" || s.Resume.Step == "" || s.Resume.Previous == "" {
			return fmt.Errorf("steps[%d].resume: playbook, step and previous are required", index)
		}
	case s.ResumeCallback != nil:
		if s.ResumeCallback.Callback == "" {
			return fmt.Errorf("steps[%d].resume_callback: callback is required", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStepExecuted, AssertStepFailed, AssertStepNotExecuted:
		if a.Playbook == "" || a.Step == "" {
			return fmt.Errorf("assertions[%d]: playbook and step are required for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if a.Playbook == "" || len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: playbook and steps are required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Playbook == "" || a.Step == "" {
			return fmt.Errorf("assertions[%d]: playbook and step are required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertBundleContains:
		if a.Playbook == "" || a.Step == "" || len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: playbook, step and fields are required for bundle_contains", index)
		}
	case AssertPendingCallback:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending_callbacks", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
