package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/scenario"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Events string
}

// FileValidation is the validation result of one scenario document.
type FileValidation struct {
	File     string             `json:"file"`
	Valid    bool               `json:"valid"`
	Nodes    int                `json:"nodes,omitempty"`
	Problems []scenario.Problem `json:"problems,omitempty"`
	Warnings []scenario.Warning `json:"warnings,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ValidationResult holds validation results for every file.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario>...",
		Short: "Validate scenario documents",
		Long: `Validate scenario documents without running them.

Checks the document shape against the scenario schema, node wiring,
typed node sections, guard and transform expressions, and FSM
definitions. Advisory findings such as loops or unreachable nodes are
reported as warnings and never fail validation.

Exit codes:
  0 - All documents are valid
  1 - One or more documents have problems
  2 - Command error (unreadable file, etc.)

Examples:
  flowsim validate ./scenarios/delivery.yaml
  flowsim validate ./scenarios/*.yaml --format json
  flowsim validate ./delivery.yaml --events ./orders.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Events, "events", "", "external-event log to check against the scenario")

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(paths))}
	unreadable := 0
	for _, path := range paths {
		fv := validateFile(path, opts.Events)
		if !fv.Valid {
			result.Valid = false
			if fv.Error != "" {
				unreadable++
			}
		}
		f.VerboseLog("validated %s: valid=%t problems=%d warnings=%d", path, fv.Valid, len(fv.Problems), len(fv.Warnings))
		result.Files = append(result.Files, fv)
	}

	if err := f.Emit(result, func(w io.Writer) { writeValidationText(w, result) }); err != nil {
		return err
	}
	switch {
	case unreadable > 0:
		return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("%d file(s) could not be read", unreadable), Reported: true}
	case !result.Valid:
		return &ExitError{Code: ExitFailure, Message: "validation failed", Reported: true}
	}
	return nil
}

func validateFile(path, eventsPath string) FileValidation {
	fv := FileValidation{File: path}
	res, err := scenario.LoadFile(path)
	if err != nil {
		var verr *scenario.ValidationError
		if errors.As(err, &verr) {
			fv.Problems = verr.Problems
		} else {
			fv.Error = err.Error()
		}
		return fv
	}
	fv.Nodes = len(res.Scenario.Nodes)
	fv.Warnings = res.Warnings

	if eventsPath != "" {
		events, err := scenario.LoadEvents(eventsPath)
		if err == nil {
			err = scenario.CheckTargets(res.Scenario, events)
		}
		var verr *scenario.ValidationError
		switch {
		case errors.As(err, &verr):
			fv.Problems = verr.Problems
			return fv
		case err != nil:
			fv.Error = err.Error()
			return fv
		}
	}
	fv.Valid = true
	return fv
}

func writeValidationText(w io.Writer, result ValidationResult) {
	for _, fv := range result.Files {
		switch {
		case fv.Error != "":
			fmt.Fprintf(w, "\u2717 %s\n  %s\n", fv.File, fv.Error)
		case !fv.Valid:
			fmt.Fprintf(w, "\u2717 %s (%d problem(s))\n", fv.File, len(fv.Problems))
			for _, p := range fv.Problems {
				fmt.Fprintf(w, "  %s\n", p)
			}
		default:
			fmt.Fprintf(w, "\u2713 %s (%d nodes)\n", fv.File, fv.Nodes)
		}
		for _, wn := range fv.Warnings {
			fmt.Fprintf(w, "  warning %s\n", wn)
		}
	}
}
