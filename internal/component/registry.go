package component

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/playbookd/internal/playbook"
)

// Registry is a read-only lookup table from component id to Component.
//
// Thread-safety: a Registry is immutable after NewRegistry returns and is
// safe for concurrent use.
type Registry struct {
	components map[string]*Component
	ids        []string // sorted
}

// NewRegistry builds a registry from the given components.
//
// Returns an error if an id is empty or duplicated, if an internal component
// has no Execute, or if a non-internal component has no Notify.
func NewRegistry(components ...Component) (*Registry, error) {
	r := &Registry{components: make(map[string]*Component, len(components))}

	for i := range components {
		c := components[i]
		if c.ID == "" {
			return nil, fmt.Errorf("component at index %d has empty id", i)
		}
		if _, dup := r.components[c.ID]; dup {
			return nil, fmt.Errorf("duplicate component id %q", c.ID)
		}
		if c.Internal && c.Execute == nil {
			return nil, fmt.Errorf("component %q: internal component requires Execute", c.ID)
		}
		if !c.Internal && c.Notify == nil {
			return nil, fmt.Errorf("component %q: non-internal component requires Notify", c.ID)
		}
		r.components[c.ID] = &c
		r.ids = append(r.ids, c.ID)
	}
	sort.Strings(r.ids)

	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
// Intended for statically known component lists.
func MustRegistry(components ...Component) *Registry {
	r, err := NewRegistry(components...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the component registered under id.
// Returns *UnknownComponentError if id is not registered.
func (r *Registry) Lookup(id string) (*Component, error) {
	c, ok := r.components[id]
	if !ok {
		return nil, &UnknownComponentError{ID: id}
	}
	return c, nil
}

// Components returns all registered components sorted by id.
func (r *Registry) Components() []Component {
	out := make([]Component, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, *r.components[id])
	}
	return out
}

// DecodeConfig decodes a node's raw configuration for the given component.
//
// Components with a Config factory get a pointer to their typed struct,
// decoded strictly (unknown fields rejected) and validated. Components
// without one get a map[string]any. Empty or null configuration decodes as {}.
func (r *Registry) DecodeConfig(componentID string, raw json.RawMessage) (any, error) {
	c, err := r.Lookup(componentID)
	if err != nil {
		return nil, err
	}
	return c.decodeConfig(raw)
}

func (c *Component) decodeConfig(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	if c.Config == nil {
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, &ConfigError{ComponentID: c.ID, Err: err}
		}
		return m, nil
	}

	cfg := c.Config()
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, &ConfigError{ComponentID: c.ID, Err: err}
	}

	if isStructPtr(cfg) {
		if err := validatorInstance().Struct(cfg); err != nil {
			return nil, &ConfigError{ComponentID: c.ID, Err: err}
		}
	}
	return cfg, nil
}

// Validate checks a definition against the registry before it is run.
//
// It reports, joined into one error: a missing start node, nodes with
// unknown components or invalid configuration, and links whose endpoints do
// not exist. A nil return means every step of the playbook can be resolved.
func (r *Registry) Validate(def *playbook.Definition, start string) error {
	var errs []error

	if _, ok := def.Node(start); !ok {
		errs = append(errs, fmt.Errorf("start node %q not found", start))
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		c, err := r.Lookup(n.ComponentID)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %q: %w", n.ID, err))
			continue
		}
		if _, err := c.decodeConfig(n.Configuration); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				ce.NodeID = n.ID
			}
			errs = append(errs, err)
		}
	}

	for _, l := range def.Dangling() {
		errs = append(errs, fmt.Errorf("link %s.%s -> %s references a missing node", l.From.ID, l.From.Port, l.To.ID))
	}

	return errors.Join(errs...)
}

func isStructPtr(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct
}
