package component

import (
	"context"

	"github.com/roach88/playbookd/internal/playbook"
)

// Invocation is the input handed to a component's Execute or Notify.
type Invocation struct {
	InstanceID       string
	PlaybookID       string
	PreviousInstance *playbook.Node // nil for the entry step
	Instance         *playbook.Node
	Config           any // decoded configuration, see Registry.DecodeConfig
	PreviousBundle   *playbook.Bundle
	Bundle           playbook.Bundle
}

// Result is what Execute returns. An empty OutputPort ends the branch.
type Result struct {
	Bundle     playbook.Bundle
	OutputPort string
}

// ExecuteFunc runs a component synchronously.
type ExecuteFunc func(ctx context.Context, inv Invocation) (Result, error)

// NotifyFunc starts out-of-band work for a non-internal component. The branch
// stays suspended until a resumption call re-enters it.
type NotifyFunc func(ctx context.Context, inv Invocation) error

// Component is an immutable registry entry.
type Component struct {
	ID          string
	Name        string
	Description string

	// Internal components complete synchronously through Execute.
	Internal bool

	// Execute is required for internal components, and for non-internal
	// components that support external resumption.
	Execute ExecuteFunc

	// Notify is required for non-internal components.
	Notify NotifyFunc

	// Config returns a pointer to a zero configuration struct. Nil means
	// the configuration is decoded as a generic JSON object.
	Config func() any

	// Schema describes the configuration shape for form rendering.
	Schema map[string]any
}
