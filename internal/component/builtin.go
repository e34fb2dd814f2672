package component

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/playbookd/internal/playbook"
)

// Built-in component ids.
const (
	TriggerEntityID        = "trigger.entity"
	FilterMatchID          = "filter.match"
	TransformSetID         = "transform.set"
	TransformPassthroughID = "transform.passthrough"
	SinkLogID              = "sink.log"
	CallbackExternalID     = "callback.external"
)

// Default output ports of the built-in components.
const (
	PortOut     = "out"
	PortMatch   = "match"
	PortNoMatch = "no_match"
)

// CallbackWriter persists suspended branches for later resumption.
// Implemented by store.Store.
type CallbackWriter interface {
	WriteCallback(ctx context.Context, cb playbook.Callback) error
}

// Deps are the collaborators built-in components need.
type Deps struct {
	// Callbacks is required by callback.external.
	Callbacks CallbackWriter

	// NewID generates callback ids. Defaults to UUIDv7.
	NewID func() string

	// Now defaults to time.Now.
	Now func() time.Time
}

// TriggerConfig configures trigger.entity: which event types start a run.
type TriggerConfig struct {
	Create bool `json:"create"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// FilterConfig configures filter.match.
type FilterConfig struct {
	Field  string `json:"field" validate:"required"`
	Equals any    `json:"equals"`
}

// SetConfig configures transform.set.
type SetConfig struct {
	Values map[string]any `json:"values" validate:"required,min=1"`
	Port   string         `json:"port,omitempty" validate:"omitempty,port"`
}

// PortConfig configures components that only choose an output port.
type PortConfig struct {
	Port string `json:"port,omitempty" validate:"omitempty,port"`
}

// CallbackConfig configures callback.external. The trigger flags let it serve
// as a start node.
type CallbackConfig struct {
	TriggerConfig
	Port string `json:"port,omitempty" validate:"omitempty,port"`
}

// Builtins returns the compiled-in component list.
func Builtins(deps Deps) []Component {
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return []Component{
		{
			ID:          TriggerEntityID,
			Name:        "Entity trigger",
			Description: "Starts a run for selected entity change types.",
			Internal:    true,
			Config:      func() any { return &TriggerConfig{} },
			Execute: func(_ context.Context, inv Invocation) (Result, error) {
				return Result{Bundle: inv.Bundle, OutputPort: PortOut}, nil
			},
			Schema: objectSchema(map[string]any{
				"create": boolSchema("Run on create"),
				"update": boolSchema("Run on update"),
				"delete": boolSchema("Run on delete"),
			}),
		},
		{
			ID:          FilterMatchID,
			Name:        "Match filter",
			Description: "Routes the bundle to match when every object's field equals the value.",
			Internal:    true,
			Config:      func() any { return &FilterConfig{} },
			Execute:     executeFilter,
			Schema: objectSchema(map[string]any{
				"field":  map[string]any{"type": "string", "title": "Field"},
				"equals": map[string]any{"title": "Expected value"},
			}, "field"),
		},
		{
			ID:          TransformSetID,
			Name:        "Set fields",
			Description: "Sets fields on every object of the bundle.",
			Internal:    true,
			Config:      func() any { return &SetConfig{} },
			Execute:     executeSet,
			Schema: objectSchema(map[string]any{
				"values": map[string]any{"type": "object", "title": "Values"},
				"port":   portSchema(),
			}, "values"),
		},
		{
			ID:          TransformPassthroughID,
			Name:        "Passthrough",
			Description: "Forwards the bundle unchanged on the configured port.",
			Internal:    true,
			Config:      func() any { return &PortConfig{} },
			Execute: func(_ context.Context, inv Invocation) (Result, error) {
				cfg, err := configAs[*PortConfig](inv)
				if err != nil {
					return Result{}, err
				}
				return Result{Bundle: inv.Bundle, OutputPort: cfg.Port}, nil
			},
			Schema: objectSchema(map[string]any{"port": portSchema()}),
		},
		{
			ID:          SinkLogID,
			Name:        "Log sink",
			Description: "Logs the bundle and ends the branch.",
			Internal:    true,
			Execute: func(_ context.Context, inv Invocation) (Result, error) {
				slog.Info("bundle received",
					"playbook_id", inv.PlaybookID,
					"step_id", inv.Instance.ID,
					"bundle_id", inv.Bundle.ID,
					"objects", len(inv.Bundle.Objects),
				)
				return Result{Bundle: inv.Bundle}, nil
			},
			Schema: objectSchema(map[string]any{}),
		},
		{
			ID:          CallbackExternalID,
			Name:        "External callback",
			Description: "Suspends the branch until an external actor resumes it.",
			Internal:    false,
			Config:      func() any { return &CallbackConfig{} },
			Notify: func(ctx context.Context, inv Invocation) error {
				if deps.Callbacks == nil {
					return fmt.Errorf("%s: no callback store configured", CallbackExternalID)
				}
				// Resumption continues from this node back to itself.
				cb := playbook.Callback{
					ID:             deps.NewID(),
					PlaybookID:     inv.PlaybookID,
					StepID:         inv.Instance.ID,
					PreviousStepID: inv.Instance.ID,
					InstanceID:     inv.InstanceID,
					Bundle:         inv.Bundle,
					CreatedAt:      deps.Now().UTC(),
				}
				if err := deps.Callbacks.WriteCallback(ctx, cb); err != nil {
					return fmt.Errorf("write callback: %w", err)
				}
				slog.Info("branch suspended",
					"playbook_id", inv.PlaybookID,
					"step_id", inv.Instance.ID,
					"callback_id", cb.ID,
				)
				return nil
			},
			Execute: func(_ context.Context, inv Invocation) (Result, error) {
				cfg, err := configAs[*CallbackConfig](inv)
				if err != nil {
					return Result{}, err
				}
				port := cfg.Port
				if port == "" {
					port = PortOut
				}
				return Result{Bundle: inv.Bundle, OutputPort: port}, nil
			},
			Schema: objectSchema(map[string]any{
				"create": boolSchema("Run on create"),
				"update": boolSchema("Run on update"),
				"delete": boolSchema("Run on delete"),
				"port":   portSchema(),
			}),
		},
	}
}

func executeFilter(_ context.Context, inv Invocation) (Result, error) {
	cfg, err := configAs[*FilterConfig](inv)
	if err != nil {
		return Result{}, err
	}

	want := fmt.Sprint(cfg.Equals)
	port := PortMatch
	if len(inv.Bundle.Objects) == 0 {
		port = PortNoMatch
	}
	for _, obj := range inv.Bundle.Objects {
		v, ok := obj[cfg.Field]
		if !ok || fmt.Sprint(v) != want {
			port = PortNoMatch
			break
		}
	}
	return Result{Bundle: inv.Bundle, OutputPort: port}, nil
}

func executeSet(_ context.Context, inv Invocation) (Result, error) {
	cfg, err := configAs[*SetConfig](inv)
	if err != nil {
		return Result{}, err
	}

	out := inv.Bundle.Clone()
	for _, obj := range out.Objects {
		for k, v := range cfg.Values {
			obj[k] = v
		}
	}
	port := cfg.Port
	if port == "" {
		port = PortOut
	}
	return Result{Bundle: out, OutputPort: port}, nil
}

// configAs asserts the decoded configuration type.
func configAs[T any](inv Invocation) (T, error) {
	cfg, ok := inv.Config.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected configuration type %T", inv.Config)
	}
	return cfg, nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func boolSchema(title string) map[string]any {
	return map[string]any{"type": "boolean", "title": title, "default": false}
}

func portSchema() map[string]any {
	return map[string]any{"type": "string", "title": "Output port", "pattern": portPattern.String()}
}
