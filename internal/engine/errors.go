package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a fault detected while running a playbook step.
//
// Runtime errors include:
//   - Unsupported playbook: missing node, unknown component, bad configuration
//   - Component failed: Execute or Notify returned an error or panicked
//   - Quota exceeded: a run took more steps than allowed
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// PlaybookID identifies the affected playbook.
	PlaybookID string

	// StepID identifies the node being executed.
	StepID string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnsupportedPlaybook indicates the graph cannot be executed as written.
	ErrCodeUnsupportedPlaybook RuntimeErrorCode = "UNSUPPORTED_PLAYBOOK"

	// ErrCodeComponentFailed indicates a component's Execute or Notify failed.
	ErrCodeComponentFailed RuntimeErrorCode = "COMPONENT_FAILED"

	// ErrCodeQuotaExceeded indicates the run exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.PlaybookID != "" && e.StepID != "" {
		return fmt.Sprintf("%s: %s (playbook=%s, step=%s)", e.Code, msg, e.PlaybookID, e.StepID)
	}
	if e.PlaybookID != "" {
		return fmt.Sprintf("%s: %s (playbook=%s)", e.Code, msg, e.PlaybookID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsUnsupportedError returns true if the error is an unsupported-playbook fault.
// Uses errors.As to handle wrapped errors.
func IsUnsupportedError(err error) bool {
	return hasCode(err, ErrCodeUnsupportedPlaybook)
}

// IsComponentError returns true if the error is a component execution fault.
func IsComponentError(err error) bool {
	return hasCode(err, ErrCodeComponentFailed)
}

// IsQuotaError returns true if the error is a quota exceeded error.
func IsQuotaError(err error) bool {
	return hasCode(err, ErrCodeQuotaExceeded)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewUnsupportedError creates a RuntimeError for a graph or registry fault.
func NewUnsupportedError(playbookID, stepID string, cause error, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeUnsupportedPlaybook,
		Message:    fmt.Sprintf(format, args...),
		PlaybookID: playbookID,
		StepID:     stepID,
		Err:        cause,
	}
}

// NewComponentError creates a RuntimeError wrapping a component failure.
func NewComponentError(playbookID, stepID, componentID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeComponentFailed,
		Message:    fmt.Sprintf("component %s failed", componentID),
		PlaybookID: playbookID,
		StepID:     stepID,
		Err:        cause,
	}
}

// NewQuotaError creates a RuntimeError for quota exceeded.
func NewQuotaError(playbookID, stepID string, steps, maxSteps int) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeQuotaExceeded,
		Message:    fmt.Sprintf("run exceeded max steps (%d > %d)", steps, maxSteps),
		PlaybookID: playbookID,
		StepID:     stepID,
	}
}
