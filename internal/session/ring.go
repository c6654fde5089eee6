package session

// ring keeps the most recent snapshots. Snapshots are numbered from 1 in
// the order they were pushed; numbers stay stable after eviction.
type ring struct {
	items []Snapshot
	start int
	count int
	total int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]Snapshot, capacity)}
}

// push stores s and reports whether the oldest snapshot was evicted.
func (r *ring) push(s Snapshot) bool {
	r.total++
	if r.count < len(r.items) {
		r.items[(r.start+r.count)%len(r.items)] = s
		r.count++
		return false
	}
	r.items[r.start] = s
	r.start = (r.start + 1) % len(r.items)
	return true
}

// oldest is the number of the oldest retained snapshot, 0 when empty.
func (r *ring) oldest() int {
	if r.count == 0 {
		return 0
	}
	return r.total - r.count + 1
}

// at returns a copy of snapshot n; callers never share the ring's maps.
func (r *ring) at(n int) (Snapshot, error) {
	switch {
	case n < 1 || n > r.total:
		return Snapshot{}, ErrSnapshotNotFound
	case n < r.oldest():
		return Snapshot{}, ErrSnapshotEvicted
	}
	return r.items[(r.start+n-r.oldest())%len(r.items)].Clone(), nil
}
