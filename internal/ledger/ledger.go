// Package ledger implements the append-only activity ledger.
//
// The ledger is the audit trail of a simulation: every processor decision
// lands here as an ir.ActivityEntry with a strictly increasing Seq. Entries
// are deep-copied on the way in and on the way out, so no caller can
// mutate a recorded entry.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/flowsim/internal/ir"
)

// Ledger is an append-only, strictly ordered list of activity entries.
// It is safe for concurrent use; the engine is the only writer.
type Ledger struct {
	mu      sync.RWMutex
	clock   *Clock
	entries []ir.ActivityEntry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{clock: NewClock()}
}

// FromEntries rebuilds a ledger from persisted entries. Entries must be in
// strictly increasing seq order; the clock resumes after the last one.
func FromEntries(entries []ir.ActivityEntry) (*Ledger, error) {
	var last int64
	out := make([]ir.ActivityEntry, 0, len(entries))
	for i, e := range entries {
		if e.Seq <= last {
			return nil, fmt.Errorf("ledger: entry %d has seq %d, not after %d", i, e.Seq, last)
		}
		last = e.Seq
		out = append(out, cloneEntry(e))
	}
	return &Ledger{clock: NewClockAt(last), entries: out}, nil
}

// Append stamps entry with the next seq, records a private copy, and
// returns the stamped entry. Any Seq set by the caller is overwritten.
func (l *Ledger) Append(entry ir.ActivityEntry) ir.ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry = cloneEntry(entry)
	entry.Seq = l.clock.Next()
	l.entries = append(l.entries, entry)
	return cloneEntry(entry)
}

// Entries returns a copy of every entry in seq order.
func (l *Ledger) Entries() []ir.ActivityEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEntries(l.entries)
}

// Since returns the entries with Seq strictly greater than seq.
func (l *Ledger) Since(seq int64) []ir.ActivityEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Seq > seq })
	if i == len(l.entries) {
		return nil
	}
	return cloneEntries(l.entries[i:])
}

// Tail returns up to the n most recent entries, oldest first.
func (l *Ledger) Tail(n int) []ir.ActivityEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := max(len(l.entries)-n, 0)
	return cloneEntries(l.entries[start:])
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastSeq returns the seq of the newest entry, or 0 for an empty ledger.
func (l *Ledger) LastSeq() int64 {
	return l.clock.Current()
}

// Digest returns the hex SHA-256 of the canonical JSON of every entry.
// Two runs of the same scenario with the same inputs have equal digests.
func (l *Ledger) Digest() (string, error) {
	return Digest(l.Entries())
}

// Digest computes the ledger digest of an entry list.
func Digest(entries []ir.ActivityEntry) (string, error) {
	arr := make(ir.IRArray, len(entries))
	for i, e := range entries {
		arr[i] = e.ToIR()
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("ledger digest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func cloneEntry(e ir.ActivityEntry) ir.ActivityEntry { return e.Clone() }

func cloneEntries(in []ir.ActivityEntry) []ir.ActivityEntry {
	out := make([]ir.ActivityEntry, len(in))
	for i, e := range in {
		out[i] = cloneEntry(e)
	}
	return out
}
