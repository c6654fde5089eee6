package engine

import (
	"context"
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/ledger"
)

// Result is the outcome of a complete simulation.
type Result struct {
	Outcome    Outcome
	Steps      int64
	Tick       int64
	Entries    []ir.ActivityEntry
	Digest     string
	NodeStates map[string]ir.IRObject
	NodeErrors map[string][]*NodeError
}

// Simulate runs sc on a fresh engine, seeded with events, until it
// completes, gets stuck, or exhausts limits.
//
// Identical (scenario, events, limits) inputs always produce identical
// ledgers, so Result.Digest can be compared across runs.
func Simulate(ctx context.Context, sc ir.Scenario, events []ir.ExternalEvent, limits Limits, opts ...Option) (*Result, error) {
	e, err := New(sc, opts...)
	if err != nil {
		return nil, err
	}
	for _, x := range events {
		if err := e.Inject(x); err != nil {
			return nil, err
		}
	}
	run, err := e.Run(ctx, limits)
	if err != nil {
		return nil, err
	}

	entries := e.Ledger().Entries()
	digest, err := ledger.Digest(entries)
	if err != nil {
		return nil, fmt.Errorf("digest ledger: %w", err)
	}
	return &Result{
		Outcome:    run.Outcome,
		Steps:      run.TotalSteps,
		Tick:       run.Tick,
		Entries:    entries,
		Digest:     digest,
		NodeStates: e.NodeStates(),
		NodeErrors: e.NodeErrors(),
	}, nil
}

// Divergence locates the first difference between a recorded ledger and a
// replayed one.
type Divergence struct {
	// Seq of the first differing entry; 0 when one ledger is a prefix of
	// the other.
	Seq      int64
	Want     *ir.ActivityEntry
	Got      *ir.ActivityEntry
	WantLen  int
	GotLen   int
	Recorded string
	Replayed string
}

func (d *Divergence) Error() string {
	if d.Want != nil && d.Got != nil {
		return fmt.Sprintf("ledger diverges at seq %d: recorded %s/%s, replayed %s/%s",
			d.Seq, d.Want.NodeID, d.Want.Action, d.Got.NodeID, d.Got.Action)
	}
	return fmt.Sprintf("ledger length differs: recorded %d entries, replayed %d", d.WantLen, d.GotLen)
}

// Replay re-simulates sc from its external-event log and checks the result
// against a recorded ledger. Replay does not have a separate mode: it is
// Simulate followed by a digest comparison. A mismatch is reported as a
// *Divergence error alongside the replayed result.
func Replay(ctx context.Context, sc ir.Scenario, events []ir.ExternalEvent, recorded []ir.ActivityEntry, limits Limits, opts ...Option) (*Result, error) {
	res, err := Simulate(ctx, sc, events, limits, opts...)
	if err != nil {
		return nil, err
	}
	want, err := ledger.Digest(recorded)
	if err != nil {
		return res, fmt.Errorf("digest recorded ledger: %w", err)
	}
	if want == res.Digest {
		return res, nil
	}
	return res, diverge(recorded, res.Entries, want, res.Digest)
}

func diverge(want, got []ir.ActivityEntry, wantDigest, gotDigest string) *Divergence {
	d := &Divergence{WantLen: len(want), GotLen: len(got), Recorded: wantDigest, Replayed: gotDigest}
	for i := range min(len(want), len(got)) {
		a, _ := ir.MarshalCanonical(want[i].ToIR())
		b, _ := ir.MarshalCanonical(got[i].ToIR())
		if string(a) != string(b) {
			d.Seq = want[i].Seq
			d.Want = &want[i]
			d.Got = &got[i]
			return d
		}
	}
	return d
}
