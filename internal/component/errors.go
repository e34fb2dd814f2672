package component

import (
	"errors"
	"fmt"
)

// UnknownComponentError is returned when a component id is not registered.
type UnknownComponentError struct {
	ID string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("unknown component %q", e.ID)
}

// IsUnknownComponent reports whether err is an UnknownComponentError.
// Uses errors.As to handle wrapped errors.
func IsUnknownComponent(err error) bool {
	var ue *UnknownComponentError
	return errors.As(err, &ue)
}

// ConfigError is returned when a node configuration does not decode or
// validate against its component's configuration struct.
type ConfigError struct {
	ComponentID string
	NodeID      string
	Err         error
}

func (e *ConfigError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q (%s): invalid configuration: %v", e.NodeID, e.ComponentID, e.Err)
	}
	return fmt.Sprintf("%s: invalid configuration: %v", e.ComponentID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
