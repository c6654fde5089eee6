package ledger

import "sync/atomic"

// Clock is the monotonic logical clock that stamps ledger seq numbers.
//
// Every appended entry gets a strictly increasing seq, so ordering never
// depends on wall-clock time and a replay reproduces the same numbering.
// Clock is safe for concurrent use, though the engine's single-writer loop
// is normally the only caller of Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start, used when a ledger is
// rebuilt from persisted entries.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued value without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
