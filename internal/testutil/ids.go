// Package testutil provides deterministic helpers for tests and golden
// scenarios: a sequential id generator and fixture instants.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// Epoch is the fixture anchor instant most tests and golden scenarios
// start their clock from. A fixed Monday keeps weekly recurrence
// fixtures readable.
var Epoch = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC) // Monday 09:00 UTC

// SeqIDGenerator produces sequential ids with a fixed prefix
// ("id-1", "id-2", ...). Deterministic: the same operation order yields
// the same ids, which is what golden snapshot comparison requires.
//
// Thread-safe via internal mutex.
type SeqIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqIDGenerator creates a generator with the given prefix.
// An empty prefix defaults to "id".
func NewSeqIDGenerator(prefix string) *SeqIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SeqIDGenerator{prefix: prefix}
}

// NewID returns the next sequential id.
func (g *SeqIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many ids have been handed out.
func (g *SeqIDGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
