package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator hands out a fixed list of uids in order. Once the list
// is exhausted it continues with "<prefix>-<n>".
//
// Implements store.IDGenerator.
type FixedIDGenerator struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator returning ids first. If prefix
// is empty, "uid" is used after the list runs out.
func NewFixedIDGenerator(prefix string, ids ...string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "uid"
	}
	return &FixedIDGenerator{ids: ids, prefix: prefix}
}

// Generate returns the next uid.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() { g.n++ }()
	if g.n < len(g.ids) {
		return g.ids[g.n]
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n-len(g.ids)+1)
}
