package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database    string
	ExecutionID string // optional, all executions when empty
}

// ReplayDivergence locates the first ledger difference.
type ReplayDivergence struct {
	Seq            int64  `json:"seq,omitempty"`
	RecordedAction string `json:"recorded_action,omitempty"`
	ReplayedAction string `json:"replayed_action,omitempty"`
	RecordedLen    int    `json:"recorded_len"`
	ReplayedLen    int    `json:"replayed_len"`
	Message        string `json:"message"`
}

// ReplayExecution is the replay result of one stored execution.
type ReplayExecution struct {
	ExecutionID    string            `json:"execution_id"`
	Scenario       string            `json:"scenario"`
	Outcome        string            `json:"outcome"`
	Activities     int               `json:"activities"`
	RecordedDigest string            `json:"recorded_digest"`
	ReplayedDigest string            `json:"replayed_digest"`
	Deterministic  bool              `json:"deterministic"`
	Divergence     *ReplayDivergence `json:"divergence,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Executions       []ReplayExecution `json:"executions"`
	Total            int               `json:"total"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-simulate stored runs and verify determinism",
		Long: `Re-simulate stored executions from their scenario and external-event
log, and compare the new activity ledger with the recorded one.

A run that stopped on a limit is replayed up to the same step count, so
timeouts replay exactly.

Exit codes:
  0 - Every replayed ledger matches its recording
  1 - At least one ledger diverges
  2 - Command error (database not found, unknown execution, etc.)

Examples:
  flowsim replay --db ./runs.db
  flowsim replay --db ./runs.db --execution 0190f7c2-...
  flowsim replay --db ./runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "replay one execution only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(f, opts.Database, false)
	if err != nil {
		return err
	}
	defer st.Close()

	var ids []string
	if opts.ExecutionID != "" {
		ids = []string{opts.ExecutionID}
	} else {
		execs, err := st.ListExecutions(ctx, "")
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, "failed to list executions", err)
		}
		for _, e := range execs {
			ids = append(ids, e.ID)
		}
	}

	result := ReplayResult{
		Executions:       make([]ReplayExecution, 0, len(ids)),
		Total:            len(ids),
		AllDeterministic: true,
	}
	for _, id := range ids {
		run, err := loadRun(ctx, f, st, id)
		if err != nil {
			return err
		}
		rex, err := replayRun(ctx, run)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("failed to replay execution %s", id), err)
		}
		f.VerboseLog("replayed %s: deterministic=%t", id, rex.Deterministic)
		if !rex.Deterministic {
			result.AllDeterministic = false
		}
		result.Executions = append(result.Executions, rex)
	}

	if err := f.Emit(result, func(w io.Writer) { writeReplayText(w, result) }); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return &ExitError{Code: ExitFailure, Message: "determinism verification failed", Reported: true}
	}
	return nil
}

// replayLimits reproduces the bound a recorded run stopped at. Completed
// and stuck runs ended on their own and replay unbounded.
func replayLimits(exec store.Execution) engine.Limits {
	if engine.Outcome(exec.Outcome) == engine.OutcomeTimeout {
		return engine.Limits{MaxSteps: int(exec.Steps)}
	}
	return engine.Limits{}
}

func replayRun(ctx context.Context, run store.Run) (ReplayExecution, error) {
	rex := ReplayExecution{
		ExecutionID:    run.Execution.ID,
		Scenario:       run.Scenario.Name,
		Outcome:        run.Execution.Outcome,
		Activities:     len(run.Entries),
		RecordedDigest: run.Execution.Digest,
	}
	res, err := engine.Replay(ctx, run.Scenario, run.Events, run.Entries, replayLimits(run.Execution))
	var div *engine.Divergence
	switch {
	case errors.As(err, &div):
		rex.ReplayedDigest = div.Replayed
		rex.Divergence = &ReplayDivergence{
			Seq:         div.Seq,
			RecordedLen: div.WantLen,
			ReplayedLen: div.GotLen,
			Message:     div.Error(),
		}
		if div.Want != nil && div.Got != nil {
			rex.Divergence.RecordedAction = div.Want.NodeID + "/" + div.Want.Action
			rex.Divergence.ReplayedAction = div.Got.NodeID + "/" + div.Got.Action
		}
		return rex, nil
	case err != nil:
		return rex, err
	}
	rex.ReplayedDigest = res.Digest
	rex.Deterministic = true
	return rex, nil
}

func writeReplayText(w io.Writer, result ReplayResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No executions found in database.")
		return
	}
	for _, r := range result.Executions {
		status := "\u2713"
		if !r.Deterministic {
			status = "\u2717"
		}
		fmt.Fprintf(w, "%s %s (%s, %s, %d activities)\n", status, r.ExecutionID, r.Scenario, r.Outcome, r.Activities)
		if r.Divergence != nil {
			fmt.Fprintf(w, "  %s\n", r.Divergence.Message)
		}
	}
	fmt.Fprintln(w)
	if result.AllDeterministic {
		fmt.Fprintf(w, "\u2713 %d execution(s) replayed deterministically\n", result.Total)
		return
	}
	fmt.Fprintln(w, "\u2717 Determinism verification failed")
}
