package testutil

import (
	"fmt"
	"sync"
)

// SequenceFlowGenerator generates "<prefix>-1", "<prefix>-2", ... so that
// flow tokens in history entries and golden traces are deterministic.
//
// Unlike lifecycle.FixedGenerator it never runs out, which suits scenarios
// whose request count is data-driven.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SequenceFlowGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequenceFlowGenerator creates a generator. An empty prefix means "flow".
func NewSequenceFlowGenerator(prefix string) *SequenceFlowGenerator {
	if prefix == "" {
		prefix = "flow"
	}
	return &SequenceFlowGenerator{prefix: prefix}
}

// Generate returns the next token.
func (g *SequenceFlowGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence at 1.
func (g *SequenceFlowGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
