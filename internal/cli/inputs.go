package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/scenario"
	"github.com/roach88/flowsim/internal/store"
)

// LimitFlags are the run bounds shared by run and replay.
type LimitFlags struct {
	MaxSteps int
	MaxTicks int64
}

// Limits converts the flags into engine limits.
func (l LimitFlags) Limits() engine.Limits {
	return engine.Limits{MaxSteps: l.MaxSteps, MaxTicks: l.MaxTicks}
}

// inputs is a loaded scenario with its external-event log.
type inputs struct {
	Scenario ir.Scenario
	Events   []ir.ExternalEvent
	Warnings []scenario.Warning
}

// loadInputs loads the scenario document and, when eventsPath is set, the
// event log, and checks that every event targets a DataSource.
func loadInputs(f *OutputFormatter, scenarioPath, eventsPath string) (*inputs, error) {
	res, err := scenario.LoadFile(scenarioPath)
	if err != nil {
		return nil, inputError(f, "failed to load scenario", err)
	}
	in := &inputs{Scenario: res.Scenario, Warnings: res.Warnings}
	if eventsPath != "" {
		in.Events, err = scenario.LoadEvents(eventsPath)
		if err != nil {
			return nil, inputError(f, "failed to load events", err)
		}
		if err := scenario.CheckTargets(in.Scenario, in.Events); err != nil {
			return nil, inputError(f, "events do not match scenario", err)
		}
	}
	for _, w := range in.Warnings {
		f.VerboseLog("warning: %s", w)
	}
	return in, nil
}

// inputError reports a load failure. Validation problems are failures of
// the document (exit 1); anything else is a command error (exit 2).
func inputError(f *OutputFormatter, message string, err error) error {
	var verr *scenario.ValidationError
	if errors.As(err, &verr) {
		return f.Fail(ExitFailure, ErrCodeInvalid, message, err)
	}
	return f.Fail(ExitCommandError, ErrCodeInput, message, err)
}

// openStore opens an existing database. A missing file is a command error
// rather than a silently created empty store.
func openStore(f *OutputFormatter, path string, create bool) (*store.Store, error) {
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, f.Fail(ExitCommandError, ErrCodeStore, "database not found", err)
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	return st, nil
}

// loadRun reads a persisted execution, mapping a missing id to ErrCodeNotFound.
func loadRun(ctx context.Context, f *OutputFormatter, st *store.Store, id string) (store.Run, error) {
	run, err := st.LoadRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return run, f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("execution %q not found", id), err)
	}
	if err != nil {
		return run, f.Fail(ExitCommandError, ErrCodeStore, "failed to load execution", err)
	}
	return run, nil
}
