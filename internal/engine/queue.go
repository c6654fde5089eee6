package engine

import (
	"container/heap"
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
)

// queued is one pending event plus scheduler bookkeeping.
//
// seq is the insertion order and breaks timestamp ties, so events produced
// at the same tick run in the order they were scheduled. depth counts the
// causal hops from the event's root (SimulationStart or an injected
// external event).
type queued struct {
	ev    ir.Event
	seq   int64
	depth int
}

// eventHeap implements heap.Interface ordered by (timestamp, seq).
type eventHeap []*queued

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].ev.Timestamp != h[j].ev.Timestamp {
		return h[i].ev.Timestamp < h[j].ev.Timestamp
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// eventQueue is the scheduler's priority queue. It is owned by a single
// engine and is not safe for concurrent use.
type eventQueue struct {
	h   eventHeap
	seq int64
}

func newEventQueue() *eventQueue {
	return &eventQueue{h: make(eventHeap, 0, 64)}
}

// push stamps ev with the next event id and schedules it.
func (q *eventQueue) push(ev ir.Event, depth int) ir.Event {
	q.seq++
	ev.ID = fmt.Sprintf("evt-%d", q.seq)
	heap.Push(&q.h, &queued{ev: ev, seq: q.seq, depth: depth})
	return ev
}

func (q *eventQueue) pop() (*queued, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*queued), true
}

func (q *eventQueue) peek() (*queued, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

func (q *eventQueue) len() int { return len(q.h) }

// sizes counts pending events per target node. Events routed by the engine
// itself (no target yet) are counted under their source node.
func (q *eventQueue) sizes() map[string]int {
	out := map[string]int{}
	for _, it := range q.h {
		node := it.ev.TargetNodeID
		if node == "" {
			node = it.ev.SourceNodeID
		}
		out[node]++
	}
	return out
}
