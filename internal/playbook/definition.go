package playbook

import (
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// portKey addresses the links leaving one node through one output port.
type portKey struct {
	node int
	port string
}

// Definition is the parsed, index-based form of a playbook graph.
//
// Nodes are addressed by index; Index resolves an id to its index. Outgoing
// links are grouped by (source node, port) and kept in declaration order.
//
// INVARIANTS:
//   - Nodes order is stable (sorted by id) so parsing the same document twice
//     yields identical indexes.
//   - Links order is declaration order and never changes after parsing.
//   - A link whose endpoint is missing stays in Links with -1 in its resolved
//     index; Outgoing still returns it so callers can fault it.
type Definition struct {
	Nodes []Node
	Links []Link

	index    map[string]int
	from     []int // resolved source index per link (-1 if missing)
	to       []int // resolved target index per link (-1 if missing)
	outgoing map[portKey][]int
}

// ResolvedLink is an outgoing link with both endpoints resolved to node
// indexes. FromIndex or ToIndex is -1 when the referenced node does not exist.
type ResolvedLink struct {
	Link
	FromIndex int
	ToIndex   int
}

// definitionDoc is the serialized shape of a Definition.
type definitionDoc struct {
	Nodes map[string]Node `json:"nodes"`
	Links []Link          `json:"links"`
}

// ParseDefinition parses a serialized graph definition.
//
// Node ids, link endpoints and ports are NFC-normalized so that visually
// identical identifiers always match. A node whose embedded id is empty takes
// its map key; a node whose embedded id disagrees with its key is rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var doc definitionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	keys := make([]string, 0, len(doc.Nodes))
	for k := range doc.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nodes := make([]Node, 0, len(keys))
	for _, k := range keys {
		n := doc.Nodes[k]
		key := normalize(k)
		if n.ID == "" {
			n.ID = key
		}
		n.ID = normalize(n.ID)
		if n.ID != key {
			return nil, fmt.Errorf("parse definition: node key %q does not match node id %q", k, n.ID)
		}
		n.ComponentID = normalize(n.ComponentID)
		nodes = append(nodes, n)
	}

	links := make([]Link, len(doc.Links))
	for i, l := range doc.Links {
		links[i] = Link{
			From: Endpoint{ID: normalize(l.From.ID), Port: normalize(l.From.Port)},
			To:   Endpoint{ID: normalize(l.To.ID)},
		}
	}

	return NewDefinition(nodes, links)
}

// NewDefinition builds a Definition from nodes and links, building the index.
// Duplicate node ids are rejected.
func NewDefinition(nodes []Node, links []Link) (*Definition, error) {
	d := &Definition{
		Nodes:    nodes,
		Links:    links,
		index:    make(map[string]int, len(nodes)),
		from:     make([]int, len(links)),
		to:       make([]int, len(links)),
		outgoing: make(map[portKey][]int),
	}

	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node at index %d has empty id", i)
		}
		if _, dup := d.index[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		d.index[n.ID] = i
	}

	for i, l := range links {
		d.from[i] = d.Index(l.From.ID)
		d.to[i] = d.Index(l.To.ID)
		// Links from a missing node are unreachable; Dangling reports them.
		if d.from[i] >= 0 {
			k := portKey{node: d.from[i], port: l.From.Port}
			d.outgoing[k] = append(d.outgoing[k], i)
		}
	}

	return d, nil
}

// Index returns the index of the node with the given id, or -1.
// The id is NFC-normalized before lookup.
func (d *Definition) Index(id string) int {
	if i, ok := d.index[normalize(id)]; ok {
		return i
	}
	return -1
}

// Node returns the node with the given id.
func (d *Definition) Node(id string) (*Node, bool) {
	i := d.Index(id)
	if i < 0 {
		return nil, false
	}
	return &d.Nodes[i], true
}

// Outgoing returns the links leaving node index i through port, in
// declaration order. Returns nil when nothing is connected to that port.
func (d *Definition) Outgoing(i int, port string) []ResolvedLink {
	idxs := d.outgoing[portKey{node: i, port: normalize(port)}]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]ResolvedLink, len(idxs))
	for j, li := range idxs {
		out[j] = ResolvedLink{Link: d.Links[li], FromIndex: d.from[li], ToIndex: d.to[li]}
	}
	return out
}

// Dangling returns every link with at least one missing endpoint.
func (d *Definition) Dangling() []Link {
	var out []Link
	for i, l := range d.Links {
		if d.from[i] < 0 || d.to[i] < 0 {
			out = append(out, l)
		}
	}
	return out
}

// MarshalJSON serializes the definition in the same shape ParseDefinition reads.
func (d *Definition) MarshalJSON() ([]byte, error) {
	doc := definitionDoc{
		Nodes: make(map[string]Node, len(d.Nodes)),
		Links: d.Links,
	}
	for _, n := range d.Nodes {
		doc.Nodes[n.ID] = n
	}
	if doc.Links == nil {
		doc.Links = []Link{}
	}
	return json.Marshal(doc)
}

func normalize(s string) string {
	return norm.NFC.String(s)
}
