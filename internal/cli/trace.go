package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/lineage"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	ExecutionID string
	TokenID     string // optional, lineage overview when empty
}

// LineageOverview summarizes a whole execution's token graph.
type LineageOverview struct {
	ExecutionID string                `json:"execution_id"`
	Stats       lineage.Statistics    `json:"stats"`
	Tokens      []lineage.TokenRecord `json:"tokens"`
	Branching   []lineage.Point       `json:"branching,omitempty"`
	Convergence []lineage.Point       `json:"convergence,omitempty"`
	LongestPath []string              `json:"longest_path,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show token lineage for a stored execution",
		Long: `Show the token lineage recorded in an execution's activity ledger.

Without --token the command lists every token with lineage statistics:
roots and leaves, branching and convergence points, and the longest
chain. With --token it prints the ancestry tree of that token, walking
both parent and child edges. Loops in the lineage are cut and reported.

Examples:
  flowsim trace --db ./runs.db --execution 0190f7c2-...
  flowsim trace --db ./runs.db --execution 0190f7c2-... --token tok-3f2a...
  flowsim trace --db ./runs.db --execution 0190f7c2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "execution to trace (required)")
	_ = cmd.MarkFlagRequired("execution")
	cmd.Flags().StringVar(&opts.TokenID, "token", "", "token whose ancestry tree to show")

	return cmd
}

// loadTracker indexes the ledger of a stored execution.
func loadTracker(ctx context.Context, f *OutputFormatter, dbPath, executionID string) (*lineage.Tracker, error) {
	st, err := openStore(f, dbPath, false)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	run, err := loadRun(ctx, f, st, executionID)
	if err != nil {
		return nil, err
	}
	f.VerboseLog("loaded %d activities for execution %s", len(run.Entries), executionID)
	return lineage.New(run.Entries), nil
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	tracker, err := loadTracker(ctx, f, opts.Database, opts.ExecutionID)
	if err != nil {
		return err
	}

	if opts.TokenID == "" {
		overview := LineageOverview{
			ExecutionID: opts.ExecutionID,
			Stats:       tracker.Statistics(),
			Tokens:      tracker.Tokens(),
			Branching:   tracker.BranchingPoints(),
			Convergence: tracker.ConvergencePoints(),
			LongestPath: tracker.LongestPath(),
		}
		return f.Emit(overview, func(w io.Writer) { writeOverviewText(w, overview) })
	}

	tree, err := tracker.BuildAncestryTree(opts.TokenID)
	if errors.Is(err, lineage.ErrTokenNotFound) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("token %q not found", opts.TokenID), err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to build ancestry tree", err)
	}
	return f.Emit(tree, func(w io.Writer) { writeTreeText(w, tree) })
}

func writeOverviewText(w io.Writer, o LineageOverview) {
	s := o.Stats
	fmt.Fprintf(w, "Execution: %s\n", o.ExecutionID)
	fmt.Fprintf(w, "Tokens: %d  Edges: %d  Roots: %d  Leaves: %d  Max generation: %d\n",
		s.Tokens, s.Edges, s.Roots, s.Leaves, s.MaxGeneration)
	fmt.Fprintf(w, "Branching: %d  Convergence: %d  Avg branching factor: %.2f\n",
		s.BranchingPoints, s.ConvergencePoints, s.AverageBranchingFactor)
	if s.MissingTokens > 0 {
		fmt.Fprintf(w, "Missing parents: %d\n", s.MissingTokens)
	}
	if len(o.LongestPath) > 0 {
		fmt.Fprintf(w, "Longest path: %s\n", strings.Join(o.LongestPath, " -> "))
	}
	fmt.Fprintln(w)
	for _, tok := range o.Tokens {
		fmt.Fprintf(w, "%s  gen=%d t=%d %s/%s", tok.ID, tok.Generation, tok.Tick, nodeOrDash(tok.NodeID), tok.Action)
		if len(tok.Parents) > 0 {
			fmt.Fprintf(w, " <- %s", strings.Join(tok.Parents, ","))
		}
		fmt.Fprintln(w)
	}
}

func writeTreeText(w io.Writer, tr *lineage.Tree) {
	root := tr.Root.Token
	fmt.Fprintf(w, "%s (%s/%s, gen %d)\n", root.ID, nodeOrDash(root.NodeID), root.Action, root.Generation)
	fmt.Fprintf(w, "Ancestors (%d):\n", tr.TotalAncestors)
	writeBranch(w, tr.Root.Ancestors, "  ", func(n *lineage.Node) []*lineage.Node { return n.Ancestors })
	fmt.Fprintf(w, "Descendants (%d):\n", tr.TotalDescendants)
	writeBranch(w, tr.Root.Descendants, "  ", func(n *lineage.Node) []*lineage.Node { return n.Descendants })
	for _, c := range tr.Cycles {
		fmt.Fprintf(w, "cycle (%s): %s\n", c.Direction, strings.Join(c.Path, " -> "))
	}
}

func writeBranch(w io.Writer, nodes []*lineage.Node, indent string, next func(*lineage.Node) []*lineage.Node) {
	for _, n := range nodes {
		tok := n.Token
		label := tok.ID
		if tok.Missing {
			label += " (missing)"
		}
		fmt.Fprintf(w, "%s%s  %s/%s t=%d\n", indent, label, nodeOrDash(tok.NodeID), tok.Action, tok.Tick)
		writeBranch(w, next(n), indent+"  ", next)
	}
}

func nodeOrDash(id string) string {
	if id == "" {
		return "-"
	}
	return id
}
