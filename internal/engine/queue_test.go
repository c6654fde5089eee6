package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/ir"
)

func TestEventQueueOrdersByTimestampThenInsertion(t *testing.T) {
	q := newEventQueue()
	for _, e := range []struct {
		node string
		ts   int64
	}{
		{"late", 5},
		{"first-at-1", 1},
		{"second-at-1", 1},
		{"middle", 3},
		{"third-at-1", 1},
	} {
		q.push(ir.Event{Type: ir.EventTimeTimeout, Timestamp: e.ts, TargetNodeID: e.node}, 0)
	}

	var got []string
	for {
		it, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, it.ev.TargetNodeID)
	}
	assert.Equal(t, []string{"first-at-1", "second-at-1", "third-at-1", "middle", "late"}, got)
}

func TestEventQueueAssignsIDs(t *testing.T) {
	q := newEventQueue()
	a := q.push(ir.Event{Type: ir.EventSimulationStart}, 0)
	b := q.push(ir.Event{Type: ir.EventSimulationStart}, 0)
	assert.Equal(t, "evt-1", a.ID)
	assert.Equal(t, "evt-2", b.ID)

	it, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, "evt-1", it.ev.ID)
	assert.Equal(t, 2, q.len())
}

func TestEventQueueSizes(t *testing.T) {
	q := newEventQueue()
	q.push(ir.Event{TargetNodeID: "a"}, 0)
	q.push(ir.Event{TargetNodeID: "a"}, 0)
	q.push(ir.Event{SourceNodeID: "b"}, 0)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, q.sizes())
}

func TestEventQueueEmpty(t *testing.T) {
	q := newEventQueue()
	_, ok := q.pop()
	assert.False(t, ok)
	_, ok = q.peek()
	assert.False(t, ok)
}
