package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RenderTrace renders a result as the compact text stored in golden
// files: a header with the case name and outcome, then one line per
// ledger entry with sequence, tick, node and action. Token ids and
// values are left out so the rendering stays readable in review.
func RenderTrace(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "case: %s\n", name)
	fmt.Fprintf(&b, "outcome: %s\n", result.Outcome)
	for _, ev := range result.Trace {
		fmt.Fprintf(&b, "%03d t=%d %s %s\n", ev.Seq, ev.Tick, nodeLabel(ev.NodeID), ev.Action)
	}
	return []byte(b.String())
}

// RunWithGolden runs c and compares its trace against
// testdata/golden/{c.Name}.golden. It returns the result so callers can
// make further checks.
func RunWithGolden(t *testing.T, c *Case) (*Result, error) {
	t.Helper()
	result, err := Run(t.Context(), c)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, c.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, RenderTrace(name, result))
}
