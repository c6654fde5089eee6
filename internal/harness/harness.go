package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/scenario"
	"github.com/roach88/flowsim/internal/store"
)

// caseExecutionID is the execution id every case records under; each
// case gets its own in-memory database, so ids never collide.
const caseExecutionID = "case"

// Run executes a case and evaluates its assertions.
//
// Execution flow:
//  1. Load and validate the scenario and events
//  2. Simulate on a fresh engine
//  3. Record the run into a fresh in-memory store and read the ledger back
//  4. Evaluate assertions against the stored ledger
//
// The error is non-nil only when the case cannot run; failed assertions
// are reported through Result.
func Run(ctx context.Context, c *Case, opts ...engine.Option) (*Result, error) {
	loaded, err := c.LoadScenario()
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	events, err := c.LoadEvents()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if err := scenario.CheckTargets(loaded.Scenario, events); err != nil {
		return nil, err
	}

	if c.StrictGuards {
		opts = append(opts, engine.WithStrictGuards())
	}
	if c.MaxChain > 0 {
		opts = append(opts, engine.WithMaxChain(c.MaxChain))
	}
	limits := engine.Limits{MaxSteps: c.Limits.MaxSteps, MaxTicks: c.Limits.MaxTicks}
	res, err := engine.Simulate(ctx, loaded.Scenario, events, limits, opts...)
	if err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}

	entries, err := persist(ctx, loaded.Scenario, events, res)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	result.Outcome = string(res.Outcome)
	result.Steps = res.Steps
	result.Tick = res.Tick
	result.Digest = res.Digest
	result.Trace = traceOf(entries)
	result.NodeStates = res.NodeStates
	result.NodeErrors = nodeErrors(res.NodeErrors)
	for _, w := range loaded.Warnings {
		result.Warnings = append(result.Warnings, w.String())
	}

	for _, msg := range EvaluateAssertions(result, c.Assertions) {
		result.AddError(msg)
	}
	slog.Debug("case finished", "case", c.Name, "pass", result.Pass, "outcome", result.Outcome, "entries", len(result.Trace))
	return result, nil
}

// persist records the run into a throwaway store and returns the ledger
// as read back from it.
func persist(ctx context.Context, sc ir.Scenario, events []ir.ExternalEvent, res *engine.Result) ([]ir.ActivityEntry, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	_, err = st.RecordRun(ctx, store.Run{
		Execution: store.Execution{
			ID:      caseExecutionID,
			Outcome: string(res.Outcome),
			Steps:   res.Steps,
			Tick:    res.Tick,
			Digest:  res.Digest,
		},
		Scenario: sc,
		Events:   events,
		Entries:  res.Entries,
	})
	if err != nil {
		return nil, err
	}
	run, err := st.LoadRun(ctx, caseExecutionID)
	if err != nil {
		return nil, err
	}
	return run.Entries, nil
}

func nodeErrors(byNode map[string][]*engine.NodeError) []string {
	var out []string
	for node, errs := range byNode {
		for _, e := range errs {
			out = append(out, fmt.Sprintf("%s: %s", node, e.Code))
		}
	}
	sort.Strings(out)
	return out
}
