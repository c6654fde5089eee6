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

// JourneyOptions holds flags for the journey command.
type JourneyOptions struct {
	*RootOptions
	Database      string
	ExecutionID   string
	CorrelationID string // optional, lists correlation ids when empty
}

// CorrelationList is the journey output when no correlation id is given.
type CorrelationList struct {
	ExecutionID  string   `json:"execution_id"`
	Correlations []string `json:"correlations"`
}

// NewJourneyCommand creates the journey command.
func NewJourneyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JourneyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journey",
		Short: "Follow one correlation id through a stored execution",
		Long: `Follow one correlation id (an order number, a request id) through the
workflow: every activity tagged with it in tick order, the nodes it
visited, the transformations applied, and its fan-out and fan-in counts.

Without --correlation the command lists the correlation ids present in
the execution.

Examples:
  flowsim journey --db ./runs.db --execution 0190f7c2-...
  flowsim journey --db ./runs.db --execution 0190f7c2-... --correlation ord-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJourney(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "execution to inspect (required)")
	_ = cmd.MarkFlagRequired("execution")
	cmd.Flags().StringVar(&opts.CorrelationID, "correlation", "", "correlation id to follow")

	return cmd
}

func runJourney(opts *JourneyOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	tracker, err := loadTracker(ctx, f, opts.Database, opts.ExecutionID)
	if err != nil {
		return err
	}

	if opts.CorrelationID == "" {
		list := CorrelationList{ExecutionID: opts.ExecutionID, Correlations: tracker.Correlations()}
		if list.Correlations == nil {
			list.Correlations = []string{}
		}
		return f.Emit(list, func(w io.Writer) {
			if len(list.Correlations) == 0 {
				fmt.Fprintln(w, "No correlation ids recorded.")
				return
			}
			for _, c := range list.Correlations {
				fmt.Fprintln(w, c)
			}
		})
	}

	j, err := tracker.TraceTokenJourney(opts.CorrelationID)
	if errors.Is(err, lineage.ErrCorrelationNotFound) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("correlation id %q not found", opts.CorrelationID), err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to trace journey", err)
	}
	return f.Emit(j, func(w io.Writer) { writeJourneyText(w, j) })
}

func writeJourneyText(w io.Writer, j lineage.Journey) {
	fmt.Fprintf(w, "Correlation: %s\n", j.CorrelationID)
	fmt.Fprintf(w, "Path:        %s\n", strings.Join(j.Nodes, " -> "))
	fmt.Fprintf(w, "Total time:  %d\n", j.TotalTime)
	fmt.Fprintf(w, "Fan-out: %d  Fan-in: %d\n", j.Fanouts, j.Fanins)
	if len(j.Transformations) > 0 {
		fmt.Fprintf(w, "Transformations: %s\n", strings.Join(j.Transformations, ", "))
	}
	fmt.Fprintln(w)
	writeLedgerText(w, j.Activities)
}
