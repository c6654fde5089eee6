package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("session")
	assert.Equal(t, "session-1", g.Generate())
	assert.Equal(t, "session-2", g.Generate())

	assert.Equal(t, "id-1", NewSequenceIDs("").Generate())
}

func TestSequenceIDsConcurrent(t *testing.T) {
	g := NewSequenceIDs("x")
	const n = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
