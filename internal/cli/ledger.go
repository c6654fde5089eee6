package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/queryir"
	"github.com/roach88/flowsim/internal/store"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	Database    string
	ExecutionID string
	NodeID      string
	NodeType    string
	Actions     []string
	Correlation string
	FromTick    int64
	ToTick      int64
	Limit       int
}

// LedgerResult is the output of a ledger query.
type LedgerResult struct {
	ExecutionID string             `json:"execution_id"`
	Count       int                `json:"count"`
	Entries     []ir.ActivityEntry `json:"entries"`
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the activity ledger of a stored execution",
		Long: `Print the activities of a stored execution in seq order, optionally
filtered by node, node type, action, correlation id and tick range. All
filters combine with AND; repeating --action matches any of the given
actions.

Examples:
  flowsim ledger --db ./runs.db --execution 0190f7c2-...
  flowsim ledger --db ./runs.db --execution 0190f7c2-... --node delivery
  flowsim ledger --db ./runs.db --execution 0190f7c2-... --action emit --action consume
  flowsim ledger --db ./runs.db --execution 0190f7c2-... --from-tick 2 --to-tick 5 --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "execution to query (required)")
	_ = cmd.MarkFlagRequired("execution")
	cmd.Flags().StringVar(&opts.NodeID, "node", "", "only activities of this node")
	cmd.Flags().StringVar(&opts.NodeType, "node-type", "", "only activities of this node type")
	cmd.Flags().StringArrayVar(&opts.Actions, "action", nil, "only these actions (repeatable)")
	cmd.Flags().StringVar(&opts.Correlation, "correlation", "", "only activities tagged with this correlation id")
	cmd.Flags().Int64Var(&opts.FromTick, "from-tick", 0, "first tick to include")
	cmd.Flags().Int64Var(&opts.ToTick, "to-tick", 0, "last tick to include")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of activities (0 for all)")

	return cmd
}

func runLedger(opts *LedgerOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	filter := queryir.Filter{
		NodeID:      opts.NodeID,
		NodeType:    ir.NodeType(opts.NodeType),
		Actions:     opts.Actions,
		Correlation: opts.Correlation,
	}
	if cmd.Flags().Changed("from-tick") {
		filter.FromTick = &opts.FromTick
	}
	if cmd.Flags().Changed("to-tick") {
		filter.ToTick = &opts.ToTick
	}

	st, err := openStore(f, opts.Database, false)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.ReadExecution(ctx, opts.ExecutionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("execution %q not found", opts.ExecutionID), err)
		}
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to load execution", err)
	}

	entries, err := st.FilterActivities(ctx, opts.ExecutionID, filter, opts.Limit)
	if errors.Is(err, queryir.ErrInvalidQuery) {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid ledger query", err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to query ledger", err)
	}
	f.VerboseLog("matched %d activities", len(entries))

	res := LedgerResult{ExecutionID: opts.ExecutionID, Count: len(entries), Entries: entries}
	if res.Entries == nil {
		res.Entries = []ir.ActivityEntry{}
	}
	return f.Emit(res, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No matching activities.")
			return
		}
		writeLedgerText(w, entries)
	})
}
