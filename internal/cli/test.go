package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter       string // case file name filter (glob pattern)
	StrictGuards bool
}

// TestResult holds the overall test result.
type TestResult struct {
	Cases []string `json:"cases"`
	*harness.SuiteResult
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <path>...",
		Short: "Run conformance cases",
		Long: `Run conformance cases against the engine.

Each case file (*.case.yaml) names a scenario, inline or by path, an
external-event log, run limits, and assertions on the resulting activity
ledger, outcome, node states and node errors. Directories are searched
recursively for case files.

Exit codes:
  0 - All cases passed
  1 - One or more cases failed
  2 - Command error (invalid paths, etc.)

Examples:
  flowsim test ./cases
  flowsim test ./cases --filter "delivery*"
  flowsim test ./cases/delivery.case.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter case files by glob pattern on the file name")
	cmd.Flags().BoolVar(&opts.StrictGuards, "strict-guards", false, "run every case with strict guards")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	files, err := harness.FindCases(paths...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "failed to find cases", err)
	}
	files, err = filterCases(files, opts.Filter)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid filter", err)
	}

	var engineOpts []engine.Option
	if opts.StrictGuards {
		engineOpts = append(engineOpts, engine.WithStrictGuards())
	}
	suite, err := harness.RunSuite(ctx, files, engineOpts...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "test run interrupted", err)
	}

	result := TestResult{Cases: files, SuiteResult: suite}
	if result.Cases == nil {
		result.Cases = []string{}
	}
	if err := f.Emit(result, func(w io.Writer) { writeTestText(w, result) }); err != nil {
		return err
	}
	if suite.Failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d case(s) failed", suite.Failed), Reported: true}
	}
	return nil
}

// filterCases keeps files whose base name, minus the case suffix, matches
// pattern.
func filterCases(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter pattern: %w", err)
	}
	var out []string
	for _, file := range files {
		name := filepath.Base(file)
		for _, suffix := range harness.CaseSuffixes {
			name = strings.TrimSuffix(name, suffix)
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			out = append(out, file)
		}
	}
	return out, nil
}

func writeTestText(w io.Writer, result TestResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No cases found.")
		return
	}
	failed := map[string]harness.CaseFailure{}
	for _, fl := range result.Failures {
		failed[fl.Path] = fl
	}
	for _, path := range result.Cases {
		fl, bad := failed[path]
		if !bad {
			fmt.Fprintf(w, "\u2713 %s\n", path)
			continue
		}
		fmt.Fprintf(w, "\u2717 %s\n", path)
		for _, line := range strings.Split(fl.Error, "; ") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
