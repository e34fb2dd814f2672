package playbook

import "fmt"

// EventType is the kind of entity change carried by a ChangeEvent.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ParseEventType validates s as an EventType.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventCreate, EventUpdate, EventDelete:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// ChangeEvent is one entry of the change-data-capture stream.
// Seq is the stream offset; it is strictly increasing within a stream.
type ChangeEvent struct {
	Seq  int64          `json:"seq"`
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// EntityID returns the entity snapshot's "id" field when it is a string.
func (e ChangeEvent) EntityID() string {
	if id, ok := e.Data["id"].(string); ok {
		return id
	}
	return ""
}

// TriggerFilter is the configuration shape expected on a playbook's start
// node: which event types start a run.
type TriggerFilter struct {
	Create bool `json:"create"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// Accepts reports whether events of type t are enabled.
func (f TriggerFilter) Accepts(t EventType) bool {
	switch t {
	case EventCreate:
		return f.Create
	case EventUpdate:
		return f.Update
	case EventDelete:
		return f.Delete
	default:
		return false
	}
}
