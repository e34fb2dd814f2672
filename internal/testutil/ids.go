package testutil

import (
	"fmt"
	"sync"
)

// FixedIDs generates predictable ids "<prefix>-1", "<prefix>-2", ...
//
// Unlike engine.FixedGenerator, which replays a fixed list and panics when it
// runs out, FixedIDs never exhausts. Scenarios use it so bundle and callback
// ids in golden files are stable.
//
// Thread-safety: FixedIDs is safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDs creates a generator. An empty prefix becomes "id".
func NewFixedIDs(prefix string) *FixedIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &FixedIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *FixedIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *FixedIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
