package playbook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fanOutDoc = `{
	"nodes": {
		"a": {"id": "a", "component_id": "transform.passthrough", "configuration": {"port": "out"}},
		"b": {"id": "b", "component_id": "sink.log"},
		"c": {"component_id": "sink.log"}
	},
	"links": [
		{"from": {"id": "a", "port": "out"}, "to": {"id": "c"}},
		{"from": {"id": "a", "port": "out"}, "to": {"id": "b"}},
		{"from": {"id": "a", "port": "err"}, "to": {"id": "b"}}
	]
}`

func TestParseDefinition_IndexesNodes(t *testing.T) {
	def, err := ParseDefinition([]byte(fanOutDoc))
	require.NoError(t, err)

	require.Len(t, def.Nodes, 3)
	assert.Equal(t, 0, def.Index("a"))
	assert.Equal(t, 1, def.Index("b"))
	assert.Equal(t, 2, def.Index("c"))
	assert.Equal(t, -1, def.Index("missing"))

	n, ok := def.Node("c")
	require.True(t, ok)
	assert.Equal(t, "c", n.ID, "id defaults to the map key")
	assert.Equal(t, "sink.log", n.ComponentID)
}

func TestParseDefinition_OutgoingKeepsDeclarationOrder(t *testing.T) {
	def, err := ParseDefinition([]byte(fanOutDoc))
	require.NoError(t, err)

	out := def.Outgoing(def.Index("a"), "out")
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].To.ID)
	assert.Equal(t, def.Index("c"), out[0].ToIndex)
	assert.Equal(t, "b", out[1].To.ID)

	assert.Len(t, def.Outgoing(def.Index("a"), "err"), 1)
	assert.Nil(t, def.Outgoing(def.Index("a"), "nothing"))
	assert.Nil(t, def.Outgoing(def.Index("b"), "out"))
}

func TestParseDefinition_KeepsDanglingLinks(t *testing.T) {
	doc := `{
		"nodes": {"a": {"component_id": "x"}},
		"links": [
			{"from": {"id": "a", "port": "out"}, "to": {"id": "ghost"}},
			{"from": {"id": "ghost", "port": "out"}, "to": {"id": "a"}}
		]
	}`
	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)

	out := def.Outgoing(0, "out")
	require.Len(t, out, 1)
	assert.Equal(t, -1, out[0].ToIndex)
	assert.Len(t, def.Dangling(), 2)
}

func TestParseDefinition_Cycle(t *testing.T) {
	doc := `{
		"nodes": {"a": {"component_id": "x"}, "b": {"component_id": "x"}},
		"links": [
			{"from": {"id": "a", "port": "out"}, "to": {"id": "b"}},
			{"from": {"id": "b", "port": "out"}, "to": {"id": "a"}}
		]
	}`
	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, def.Dangling())
	assert.Equal(t, "a", def.Outgoing(def.Index("b"), "out")[0].To.ID)
}

func TestParseDefinition_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"nodes": `},
		{"id mismatch", `{"nodes": {"a": {"id": "b", "component_id": "x"}}, "links": []}`},
		{"nodes not an object", `{"nodes": [], "links": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseDefinition_NormalizesIdentifiers(t *testing.T) {
	// "é" as e + combining acute in the link, precomposed in the node key.
	doc := "{\"nodes\": {\"caf\u00e9\": {\"component_id\": \"x\"}, \"a\": {\"component_id\": \"x\"}}," +
		"\"links\": [{\"from\": {\"id\": \"a\", \"port\": \"out\"}, \"to\": {\"id\": \"cafe\u0301\"}}]}"
	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, def.Dangling())
}

func TestNewDefinition_DuplicateID(t *testing.T) {
	_, err := NewDefinition([]Node{{ID: "a"}, {ID: "a"}}, nil)
	assert.ErrorContains(t, err, "duplicate node id")
}

func TestDefinition_MarshalJSONRoundTrip(t *testing.T) {
	def, err := ParseDefinition([]byte(fanOutDoc))
	require.NoError(t, err)

	data, err := json.Marshal(def)
	require.NoError(t, err)

	again, err := ParseDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, def.Links, again.Links)
	assert.Equal(t, len(def.Nodes), len(again.Nodes))
}
