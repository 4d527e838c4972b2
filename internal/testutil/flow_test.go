package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceFlowGenerator_Increments(t *testing.T) {
	gen := NewSequenceFlowGenerator("req")

	assert.Equal(t, "req-1", gen.Generate())
	assert.Equal(t, "req-2", gen.Generate())

	gen.Reset()
	assert.Equal(t, "req-1", gen.Generate())
}

func TestSequenceFlowGenerator_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "flow-1", NewSequenceFlowGenerator("").Generate())
}

func TestSequenceFlowGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceFlowGenerator("t")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				token := gen.Generate()
				mu.Lock()
				seen[token] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000, "every token is unique")
}
