package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/flowsim/internal/engine"
)

// CaseSuffixes mark case files inside a directory; other YAML files there
// (scenario documents, event logs) are left alone.
var CaseSuffixes = []string{".case.yaml", ".case.yml"}

// CaseFailure describes a case that failed to load, run or pass.
type CaseFailure struct {
	Case  string `json:"case"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// SuiteResult summarizes a batch of cases.
type SuiteResult struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Failures []CaseFailure `json:"failures,omitempty"`
}

// FindCases expands each path: files are taken as they are, directories
// are walked for files ending in one of CaseSuffixes. The result is
// sorted.
func FindCases(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("find cases: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			for _, suffix := range CaseSuffixes {
				if strings.HasSuffix(path, suffix) {
					out = append(out, path)
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("find cases: %w", err)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RunSuite loads and runs every case file, collecting failures instead
// of stopping at the first one.
func RunSuite(ctx context.Context, paths []string, opts ...engine.Option) (*SuiteResult, error) {
	result := &SuiteResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Total++

		c, err := LoadCase(path)
		if err != nil {
			result.fail("", path, fmt.Sprintf("failed to load case: %v", err))
			continue
		}
		run, err := Run(ctx, c, opts...)
		if err != nil {
			result.fail(c.Name, path, fmt.Sprintf("case execution failed: %v", err))
			continue
		}
		if !run.Pass {
			result.fail(c.Name, path, fmt.Sprintf("case assertions failed: %s", strings.Join(run.Errors, "; ")))
			continue
		}
		result.Passed++
	}
	return result, nil
}

func (r *SuiteResult) fail(name, path, msg string) {
	r.Failed++
	r.Failures = append(r.Failures, CaseFailure{Case: name, Path: path, Error: msg})
}
