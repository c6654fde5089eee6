package session

import (
	"errors"
	"maps"
	"slices"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
)

var (
	// ErrSnapshotEvicted is returned for a snapshot that fell out of the
	// session's bounded history.
	ErrSnapshotEvicted = errors.New("session: snapshot evicted")

	// ErrSnapshotNotFound is returned for a snapshot number never taken.
	ErrSnapshotNotFound = errors.New("session: snapshot not found")
)

// Snapshot is the engine's state after one chunk.
type Snapshot struct {
	// Number counts chunks from 1.
	Number         int                    `json:"number"`
	Step           int64                  `json:"step"`
	Timestamp      int64                  `json:"timestamp"`
	NodeStates     map[string]ir.IRObject `json:"nodeStates"`
	QueueSizes     map[string]int         `json:"queueSizes"`
	RecentActivity []ir.ActivityEntry     `json:"recentActivity"`
	Outcome        engine.Outcome         `json:"outcome"`
	LastSeq        int64                  `json:"lastSeq"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	if s.NodeStates != nil {
		states := make(map[string]ir.IRObject, len(s.NodeStates))
		for id, st := range s.NodeStates {
			states[id] = st.Clone()
		}
		s.NodeStates = states
	}
	s.QueueSizes = maps.Clone(s.QueueSizes)
	if s.RecentActivity != nil {
		entries := make([]ir.ActivityEntry, len(s.RecentActivity))
		for i, e := range s.RecentActivity {
			entries[i] = e.Clone()
		}
		s.RecentActivity = entries
	}
	return s
}

// At returns snapshot n.
func (s *Session) At(n int) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps.at(n)
}

// Latest returns the most recent snapshot.
func (s *Session) Latest() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps.at(s.snaps.total)
}

// Range returns snapshots from through to, inclusive. to is clipped to the
// latest snapshot.
func (s *Session) Range(from, to int) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	to = min(to, s.snaps.total)
	if from < 1 || from > to {
		return nil, ErrSnapshotNotFound
	}
	if from < s.snaps.oldest() {
		return nil, ErrSnapshotEvicted
	}
	out := make([]Snapshot, 0, to-from+1)
	for n := from; n <= to; n++ {
		snap, err := s.snaps.at(n)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Page returns the page-th group of size snapshots, counting pages from 0.
// The last page may be short; a page past the end is empty.
func (s *Session) Page(page, size int) ([]Snapshot, error) {
	if page < 0 || size < 1 {
		return nil, ErrSnapshotNotFound
	}
	from := page*size + 1
	if from > s.Len() {
		return []Snapshot{}, nil
	}
	return s.Range(from, from+size-1)
}

// Len is the number of snapshots taken, evicted ones included.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps.total
}

// Retained is the number of snapshots still held.
func (s *Session) Retained() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps.count
}

func recent(entries []ir.ActivityEntry, n int) []ir.ActivityEntry {
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return slices.Clip(entries)
}
