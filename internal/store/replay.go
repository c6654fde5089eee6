package store

import (
	"context"
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
)

// Run is everything needed to replay an execution: the scenario, the
// ordered external-event log, and the ledger the replay is checked
// against.
type Run struct {
	Execution Execution
	Scenario  ir.Scenario
	Events    []ir.ExternalEvent
	Entries   []ir.ActivityEntry
}

// RecordRun persists a finished run: scenario, execution row, input log,
// and ledger. Execution.ID must be set; Execution.ScenarioID is filled in
// from the stored scenario. Recording the same run twice is a no-op.
func (s *Store) RecordRun(ctx context.Context, run Run) (Run, error) {
	if run.Execution.ID == "" {
		return run, fmt.Errorf("record run: execution id is required")
	}
	scenarioID, err := s.SaveScenario(ctx, run.Scenario)
	if err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	run.Execution.ScenarioID = scenarioID

	exec := run.Execution
	if err := s.CreateExecution(ctx, exec); err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	if err := s.AppendExternalEvents(ctx, exec.ID, run.Events); err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	if err := s.WriteActivities(ctx, exec.ID, run.Entries); err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	if err := s.FinishExecution(ctx, exec.ID, exec.Outcome, exec.Steps, exec.Tick, exec.Digest); err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	stored, err := s.ReadExecution(ctx, exec.ID)
	if err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	run.Execution = stored
	return run, nil
}

// LoadRun reads back everything RecordRun wrote for an execution.
func (s *Store) LoadRun(ctx context.Context, executionID string) (Run, error) {
	exec, err := s.ReadExecution(ctx, executionID)
	if err != nil {
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	sc, err := s.LoadScenario(ctx, exec.ScenarioID)
	if err != nil {
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	events, err := s.ReadExternalEvents(ctx, executionID)
	if err != nil {
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	entries, err := s.ReadActivities(ctx, executionID)
	if err != nil {
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	return Run{Execution: exec, Scenario: sc, Events: events, Entries: entries}, nil
}
