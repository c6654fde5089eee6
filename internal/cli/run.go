package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/ledger"
	"github.com/roach88/flowsim/internal/metrics"
	"github.com/roach88/flowsim/internal/session"
	"github.com/roach88/flowsim/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	LimitFlags
	Events       string
	Database     string
	ExecutionID  string
	Chunk        int
	Snapshots    int
	StrictGuards bool
	MaxChain     int
	ShowLedger   bool
	Metrics      bool
	Trace        bool
}

// RunSummary is the output of the run command.
type RunSummary struct {
	ExecutionID string             `json:"execution_id,omitempty"`
	Scenario    string             `json:"scenario"`
	Outcome     engine.Outcome     `json:"outcome"`
	Steps       int64              `json:"steps"`
	Tick        int64              `json:"tick"`
	Digest      string             `json:"digest"`
	Activities  int                `json:"activities"`
	Chunks      int                `json:"chunks,omitempty"`
	NodeErrors  []string           `json:"node_errors,omitempty"`
	Ledger      []ir.ActivityEntry `json:"ledger,omitempty"`
}

// runOutput is what both run modes hand back for reporting and storage.
type runOutput struct {
	outcome engine.Outcome
	steps   int64
	tick    int64
	entries []ir.ActivityEntry
	errors  map[string][]*engine.NodeError
	chunks  int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Simulate a scenario",
		Long: `Simulate a scenario against an external-event log.

The run ends when no events remain (completed), when a limit is reached
(timeout), or when the only pending events can never make progress
(stuck). With --db the scenario, the event log and the activity ledger are
stored so the run can later be replayed, traced and inspected.

With --chunk the run advances in chunks of that many steps through a
session, taking a state snapshot after each chunk.

Exit codes:
  0 - Run completed or timed out
  1 - Invalid scenario or event log, or the run got stuck
  2 - Command error (unreadable file, database error, etc.)

Examples:
  flowsim run ./delivery.yaml --events ./orders.yaml
  flowsim run ./delivery.yaml --events ./orders.yaml --db ./runs.db
  flowsim run ./delivery.yaml --events ./orders.yaml --chunk 50 --trace
  flowsim run ./delivery.yaml --max-ticks 100 --metrics --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Events, "events", "", "external-event log (YAML or JSON)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to record the run in")
	cmd.Flags().StringVar(&opts.ExecutionID, "id", "", "execution id to record (default: new UUIDv7)")
	addLimitFlags(cmd, &opts.LimitFlags)
	cmd.Flags().IntVar(&opts.Chunk, "chunk", 0, "run in chunks of this many steps, snapshotting after each")
	cmd.Flags().IntVar(&opts.Snapshots, "snapshots", session.DefaultSnapshotCapacity, "snapshots retained in chunked mode")
	cmd.Flags().BoolVar(&opts.StrictGuards, "strict-guards", false, "treat guard evaluation failures as node errors")
	cmd.Flags().IntVar(&opts.MaxChain, "max-chain", engine.DefaultMaxChain, "maximum causal depth of an event chain")
	cmd.Flags().BoolVar(&opts.ShowLedger, "ledger", false, "print the full activity ledger")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write Prometheus metrics to stderr after the run")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "write OpenTelemetry spans to stderr")

	return cmd
}

func addLimitFlags(cmd *cobra.Command, l *LimitFlags) {
	cmd.Flags().IntVar(&l.MaxSteps, "max-steps", 0, "stop after this many dispatched events (0 = unbounded)")
	cmd.Flags().Int64Var(&l.MaxTicks, "max-ticks", 0, "stop at this simulation time (0 = unbounded)")
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	in, err := loadInputs(f, path, opts.Events)
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to create metrics", err)
	}
	tracer, shutdown, err := newTracer(opts.Trace, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to set up tracing", err)
	}
	defer shutdown(ctx)

	engineOpts := []engine.Option{engine.WithMetrics(collector), engine.WithMaxChain(opts.MaxChain)}
	if opts.StrictGuards {
		engineOpts = append(engineOpts, engine.WithStrictGuards())
	}

	ctx, span := tracer.Start(ctx, "flowsim.run", trace.WithAttributes(
		attribute.String("scenario", in.Scenario.Name),
		attribute.Int("events", len(in.Events)),
		attribute.Int("chunk", opts.Chunk),
	))
	var out *runOutput
	if opts.Chunk > 0 {
		out, err = runChunked(ctx, opts, in, tracer, collector, engineOpts)
	} else {
		out, err = runDirect(ctx, opts, in, engineOpts)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return f.Fail(ExitCommandError, ErrCodeGeneric, "simulation failed", err)
	}
	span.SetAttributes(attribute.String("outcome", string(out.outcome)), attribute.Int64("steps", out.steps))
	span.End()

	digest, err := ledger.Digest(out.entries)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to digest ledger", err)
	}
	summary := RunSummary{
		Scenario:   in.Scenario.Name,
		Outcome:    out.outcome,
		Steps:      out.steps,
		Tick:       out.tick,
		Digest:     digest,
		Activities: len(out.entries),
		Chunks:     out.chunks,
		NodeErrors: flattenNodeErrors(out.errors),
	}
	if opts.ShowLedger {
		summary.Ledger = out.entries
	}

	if opts.Database != "" {
		id, err := recordRun(ctx, f, opts, in, out, digest)
		if err != nil {
			return err
		}
		summary.ExecutionID = id
	}

	if err := f.Emit(summary, func(w io.Writer) { writeRunText(w, summary) }); err != nil {
		return err
	}
	if opts.Metrics {
		if err := collector.WriteText(cmd.ErrOrStderr()); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}
	if out.outcome == engine.OutcomeStuck {
		return &ExitError{Code: ExitFailure, Message: "simulation stuck", Reported: true}
	}
	return nil
}

func runDirect(ctx context.Context, opts *RunOptions, in *inputs, engineOpts []engine.Option) (*runOutput, error) {
	res, err := engine.Simulate(ctx, in.Scenario, in.Events, opts.Limits(), engineOpts...)
	if err != nil {
		return nil, err
	}
	return &runOutput{
		outcome: res.Outcome,
		steps:   res.Steps,
		tick:    res.Tick,
		entries: res.Entries,
		errors:  res.NodeErrors,
	}, nil
}

// runChunked drives the run through a session. --max-steps bounds the
// number of chunks; --max-ticks applies to each chunk.
func runChunked(ctx context.Context, opts *RunOptions, in *inputs, tracer trace.Tracer, collector *metrics.Collector, engineOpts []engine.Option) (*runOutput, error) {
	mgr := session.NewManager(1,
		session.WithManagerMetrics(collector),
		session.WithSessionOptions(
			session.WithSnapshotCapacity(opts.Snapshots),
			session.WithTracer(tracer),
			session.WithEngineOptions(engineOpts...),
		),
	)
	s, err := mgr.Create(in.Scenario, in.Events)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := mgr.Delete(s.ID()); err != nil {
			slog.Warn("closing session failed", "session_id", s.ID(), "error", err)
		}
	}()

	maxChunks := session.DefaultMaxChunks
	if opts.MaxSteps > 0 {
		maxChunks = (opts.MaxSteps + opts.Chunk - 1) / opts.Chunk
	}
	limits := engine.Limits{MaxSteps: opts.Chunk, MaxTicks: opts.MaxTicks}

	var snap session.Snapshot
	for range maxChunks {
		snap, err = s.RunChunk(ctx, limits)
		if err != nil {
			return nil, err
		}
		if snap.Outcome != engine.OutcomeTimeout {
			break
		}
		if opts.MaxTicks > 0 && snap.Timestamp >= opts.MaxTicks {
			break
		}
	}
	slog.Debug("chunked run finished", "session_id", s.ID(), "chunks", snap.Number, "outcome", snap.Outcome)
	return &runOutput{
		outcome: snap.Outcome,
		steps:   snap.Step,
		tick:    snap.Timestamp,
		entries: s.Entries(),
		errors:  s.NodeErrors(),
		chunks:  snap.Number,
	}, nil
}

func recordRun(ctx context.Context, f *OutputFormatter, opts *RunOptions, in *inputs, out *runOutput, digest string) (string, error) {
	st, err := openStore(f, opts.Database, true)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}()

	id := opts.ExecutionID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	run, err := st.RecordRun(ctx, store.Run{
		Execution: store.Execution{
			ID:      id,
			Outcome: string(out.outcome),
			Steps:   out.steps,
			Tick:    out.tick,
			Digest:  digest,
		},
		Scenario: in.Scenario,
		Events:   in.Events,
		Entries:  out.entries,
	})
	if err != nil {
		return "", f.Fail(ExitCommandError, ErrCodeStore, "failed to record run", err)
	}
	f.VerboseLog("recorded execution %s (scenario %s)", run.Execution.ID, run.Execution.ScenarioID)
	return run.Execution.ID, nil
}

// flattenNodeErrors renders node errors as "node: CODE: cause", sorted.
func flattenNodeErrors(byNode map[string][]*engine.NodeError) []string {
	var out []string
	for node, errs := range byNode {
		for _, e := range errs {
			out = append(out, fmt.Sprintf("%s: %s: %v", node, e.Code, e.Err))
		}
	}
	slices.Sort(out)
	return out
}

func writeRunText(w io.Writer, s RunSummary) {
	fmt.Fprintf(w, "Scenario:   %s\n", s.Scenario)
	if s.ExecutionID != "" {
		fmt.Fprintf(w, "Execution:  %s\n", s.ExecutionID)
	}
	fmt.Fprintf(w, "Outcome:    %s\n", s.Outcome)
	fmt.Fprintf(w, "Steps:      %d\n", s.Steps)
	fmt.Fprintf(w, "Tick:       %d\n", s.Tick)
	if s.Chunks > 0 {
		fmt.Fprintf(w, "Chunks:     %d\n", s.Chunks)
	}
	fmt.Fprintf(w, "Activities: %d\n", s.Activities)
	fmt.Fprintf(w, "Digest:     %s\n", s.Digest)
	if len(s.NodeErrors) > 0 {
		fmt.Fprintf(w, "Node errors:\n")
		for _, e := range s.NodeErrors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if len(s.Ledger) > 0 {
		fmt.Fprintln(w)
		writeLedgerText(w, s.Ledger)
	}
}

func writeLedgerText(w io.Writer, entries []ir.ActivityEntry) {
	for _, e := range entries {
		line := fmt.Sprintf("%4d t=%-4d %-12s %-20s", e.Seq, e.Tick, nodeOrDash(e.NodeID), e.Action)
		if v := renderValue(e.Value); v != "" {
			line += " " + v
		}
		if len(e.CorrelationIDs) > 0 {
			line += " [" + strings.Join(e.CorrelationIDs, ",") + "]"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func renderValue(v ir.IRValue) string {
	if v == nil {
		return ""
	}
	if _, isNull := v.(ir.IRNull); isNull {
		return ""
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
