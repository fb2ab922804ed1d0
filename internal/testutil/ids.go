package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates ids "{prefix}-1", "{prefix}-2", ...
//
// Unlike engine.FixedGenerator it never runs out, which suits scenarios whose
// number of flushes is not known up front. The same scenario always yields
// the same ids, so golden traces stay byte-identical.
//
// Thread-safety: SequenceGenerator is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "batch".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "batch"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id. Implements engine.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
