package playbook

import (
	"encoding/json"
	"time"
)

// Playbook is a user-defined automation graph plus its run state.
//
// Definition holds the serialized graph (see ParseDefinition). Only playbooks
// with Running set are considered by the stream consumer.
type Playbook struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Definition string    `json:"playbook_definition"`
	Start      string    `json:"playbook_start"`
	Running    bool      `json:"playbook_running"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Node is one placement of a component within a playbook.
type Node struct {
	ID            string          `json:"id"`
	ComponentID   string          `json:"component_id"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Endpoint identifies one side of a Link. Port is only meaningful on the
// source side.
type Endpoint struct {
	ID   string `json:"id"`
	Port string `json:"port,omitempty"`
}

// Link is a directed edge from a node's named output port to another node.
type Link struct {
	From Endpoint `json:"from"`
	To   Endpoint `json:"to"`
}
