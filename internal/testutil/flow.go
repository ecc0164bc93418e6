package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator generates "<prefix>-1", "<prefix>-2", ... and never
// runs out, unlike engine.FixedGenerator.
//
// Session ids are then predictable in scenarios that run an unknown number
// of sessions.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDGenerator creates a generator. An empty prefix uses "session".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.IDGenerator interface.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
