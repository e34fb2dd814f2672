package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/playbookd/internal/playbook"
)

// marshalBundle serializes a bundle for storage. A nil bundle is stored as NULL.
func marshalBundle(b *playbook.Bundle) (sql.NullString, error) {
	if b == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal bundle: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalBundle is the inverse of marshalBundle.
func unmarshalBundle(s sql.NullString) (*playbook.Bundle, error) {
	if !s.Valid {
		return nil, nil
	}
	var b playbook.Bundle
	if err := json.Unmarshal([]byte(s.String), &b); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return &b, nil
}

// marshalEventData serializes an entity snapshot.
func marshalEventData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	out, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}
	return string(out), nil
}

func unmarshalEventData(s string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("unmarshal event data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
