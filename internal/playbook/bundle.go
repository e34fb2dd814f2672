package playbook

import (
	"encoding/json"
	"fmt"
)

// BundleType is the only accepted value of Bundle.Type.
const BundleType = "bundle"

// Bundle is the unit of domain data threaded through a playbook graph.
//
// Bundles are value objects between steps: each step receives the previous
// bundle and produces a new one. Components must not mutate the Objects of a
// bundle they received; use Clone before modifying.
type Bundle struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Objects []map[string]any `json:"objects"`
}

// NewBundle creates a bundle with the given id wrapping objects.
func NewBundle(id string, objects ...map[string]any) Bundle {
	if objects == nil {
		objects = []map[string]any{}
	}
	return Bundle{ID: id, Type: BundleType, Objects: objects}
}

// ParseBundle parses a serialized bundle.
// Returns an error if the payload is not a bundle envelope.
func ParseBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("parse bundle: %w", err)
	}
	if b.Type != BundleType {
		return Bundle{}, fmt.Errorf("parse bundle: unexpected type %q", b.Type)
	}
	if b.ID == "" {
		return Bundle{}, fmt.Errorf("parse bundle: missing id")
	}
	if b.Objects == nil {
		b.Objects = []map[string]any{}
	}
	return b, nil
}

// Clone returns a copy whose object maps can be modified without affecting b.
// Nested values are shared.
func (b Bundle) Clone() Bundle {
	objs := make([]map[string]any, len(b.Objects))
	for i, o := range b.Objects {
		cp := make(map[string]any, len(o))
		for k, v := range o {
			cp[k] = v
		}
		objs[i] = cp
	}
	return Bundle{ID: b.ID, Type: b.Type, Objects: objs}
}

// String returns the serialized bundle, or an empty string if it cannot be encoded.
func (b Bundle) String() string {
	data, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	return string(data)
}
