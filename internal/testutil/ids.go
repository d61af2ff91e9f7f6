package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates predictable session ids for tests.
//
// Ids have the form "<prefix>-<n>" starting at 1, so the same test produces
// byte-identical reports and ledger rows across runs.
//
// Thread-safety: SequenceIDs is safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "session".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "session"
	}
	return &SequenceIDs{prefix: prefix}
}

// Next returns the next id. Matches the harness.Options.NewID signature.
func (g *SequenceIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
