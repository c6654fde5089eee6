package lineage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/testutil"
)

type entryOpt func(*ir.ActivityEntry)

func transformed(desc string) entryOpt {
	return func(e *ir.ActivityEntry) { e.Metadata[ir.MetaTransformation] = ir.IRString(desc) }
}

func tok(seq, tick int64, node, action, id string, parents []string, opts ...entryOpt) ir.ActivityEntry {
	e := ir.ActivityEntry{
		Seq:            seq,
		Tick:           tick,
		NodeID:         node,
		Action:         action,
		CorrelationIDs: []string{"c1"},
		Metadata: ir.IRObject{
			ir.MetaTokenID:   ir.IRString(id),
			ir.MetaTokenType: ir.IRString("doc"),
		},
	}
	if parents != nil {
		e.Metadata[ir.MetaParentIDs] = ir.StringArray(parents)
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}

// diamond: a splits into b and c, which merge into d, which becomes e.
func diamond() []ir.ActivityEntry {
	return []ir.ActivityEntry{
		tok(1, 0, "src", ir.ActionEmit, "a_g0_1", nil),
		tok(2, 1, "mux", ir.ActionSplit, "b_g1_1", []string{"a_g0_1"}),
		tok(3, 1, "mux", ir.ActionSplit, "c_g1_2", []string{"a_g0_1"}),
		tok(4, 4, "agg", ir.ActionMerge, "d_g2_1", []string{"b_g1_1", "c_g1_2"}, transformed("aggregate:sum")),
		tok(5, 4, "sink", ir.ActionConsume, "d_g2_1", nil),
		tok(6, 9, "proc", ir.ActionTransform, "e_g3_1", []string{"d_g2_1"}, transformed("process:x")),
	}
}

func TestTrackerIndexes(t *testing.T) {
	tr := New(diamond())

	d, err := tr.Token("d_g2_1")
	require.NoError(t, err)
	assert.Equal(t, "agg", d.NodeID)
	assert.Equal(t, ir.ActionMerge, d.Action)
	assert.Equal(t, int64(4), d.Seq)
	assert.Equal(t, 2, d.Generation)
	assert.Equal(t, "doc", d.Type)
	assert.Equal(t, []string{"b_g1_1", "c_g1_2"}, d.Parents)
	assert.Equal(t, "aggregate:sum", d.Transformation)

	assert.Equal(t, []string{"b_g1_1", "c_g1_2"}, tr.Children("a_g0_1"))
	assert.Equal(t, []string{"b_g1_1", "c_g1_2"}, tr.Parents("d_g2_1"))
	assert.Len(t, tr.Tokens(), 5)
	assert.Len(t, tr.Activities("c1"), 6)
	assert.Equal(t, []string{"c1"}, tr.Correlations())

	_, err = tr.Token("nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTrackerMissingParent(t *testing.T) {
	tr := New([]ir.ActivityEntry{
		tok(1, 3, "p", ir.ActionTransform, "x_g1_1", []string{"ghost_g0_1"}),
	})
	ghost, err := tr.Token("ghost_g0_1")
	require.NoError(t, err)
	assert.True(t, ghost.Missing)
	assert.Equal(t, []string{"ghost_g0_1"}, tr.RootTokens())
	assert.Equal(t, 1, tr.Statistics().MissingTokens)
}

func TestBuildAncestryTreeDiamond(t *testing.T) {
	tr := New(diamond())

	tree, err := tr.BuildAncestryTree("a_g0_1")
	require.NoError(t, err)
	assert.False(t, tree.CycleDetected())
	assert.Zero(t, tree.TotalAncestors)
	assert.Equal(t, 4, tree.TotalDescendants, "d and e are reachable twice but counted once")

	require.Len(t, tree.Root.Descendants, 2)
	for _, branch := range tree.Root.Descendants {
		require.Len(t, branch.Descendants, 1)
		assert.Equal(t, "d_g2_1", branch.Descendants[0].Token.ID)
		require.Len(t, branch.Descendants[0].Descendants, 1)
		assert.Equal(t, "e_g3_1", branch.Descendants[0].Descendants[0].Token.ID)
	}

	tree, err = tr.BuildAncestryTree("d_g2_1")
	require.NoError(t, err)
	assert.Equal(t, 3, tree.TotalAncestors)
	assert.Equal(t, 1, tree.TotalDescendants)
	require.Len(t, tree.Root.Ancestors, 2)
	assert.Equal(t, "a_g0_1", tree.Root.Ancestors[1].Ancestors[0].Token.ID)

	_, err = tr.BuildAncestryTree("nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestBuildAncestryTreeCycles(t *testing.T) {
	tests := []struct {
		name    string
		entries []ir.ActivityEntry
		root    string
		want    []CycleDetected
	}{
		{
			name: "two token loop",
			entries: []ir.ActivityEntry{
				tok(1, 0, "n", ir.ActionTransform, "x_g1_1", []string{"y_g1_1"}),
				tok(2, 0, "n", ir.ActionTransform, "y_g1_1", []string{"x_g1_1"}),
			},
			root: "x_g1_1",
			want: []CycleDetected{
				{Direction: Ancestors, Path: []string{"x_g1_1", "y_g1_1", "x_g1_1"}},
				{Direction: Descendants, Path: []string{"x_g1_1", "y_g1_1", "x_g1_1"}},
			},
		},
		{
			name: "self parent",
			entries: []ir.ActivityEntry{
				tok(1, 0, "n", ir.ActionTransform, "z_g1_1", []string{"z_g1_1"}),
			},
			root: "z_g1_1",
			want: []CycleDetected{
				{Direction: Ancestors, Path: []string{"z_g1_1", "z_g1_1"}},
				{Direction: Descendants, Path: []string{"z_g1_1", "z_g1_1"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(tt.entries)
			tree, err := tr.BuildAncestryTree(tt.root)
			require.NoError(t, err)
			assert.True(t, tree.CycleDetected())
			assert.Equal(t, tt.want, tree.Cycles)
			assert.Empty(t, tr.LongestPath(), "no roots on a pure cycle")
		})
	}
}

func TestTrackerShape(t *testing.T) {
	tr := New(diamond())

	assert.Equal(t, []string{"a_g0_1"}, tr.RootTokens())
	assert.Equal(t, []string{"e_g3_1"}, tr.LeafTokens())
	assert.Equal(t, []string{"a_g0_1", "b_g1_1", "d_g2_1", "e_g3_1"}, tr.LongestPath())
	assert.Equal(t, []Point{{TokenID: "a_g0_1", Edges: 2}}, tr.BranchingPoints())
	assert.Equal(t, []Point{{TokenID: "d_g2_1", Edges: 2}}, tr.ConvergencePoints())
	assert.InDelta(t, 1.25, tr.AverageBranchingFactor(), 1e-9)

	assert.Equal(t, Statistics{
		Tokens:                 5,
		Edges:                  5,
		Roots:                  1,
		Leaves:                 1,
		MaxGeneration:          3,
		LongestPath:            4,
		BranchingPoints:        1,
		ConvergencePoints:      1,
		AverageBranchingFactor: 1.25,
		Correlations:           1,
	}, tr.Statistics())

	assert.Zero(t, New(nil).AverageBranchingFactor())
}

func TestTraceTokenJourney(t *testing.T) {
	entries := diamond()
	entries = append(entries,
		ir.ActivityEntry{Seq: 7, Tick: 5, NodeID: "late", Action: "notification", CorrelationIDs: []string{"c2"}, Metadata: ir.IRObject{}},
		ir.ActivityEntry{Seq: 8, Tick: 2, NodeID: "early", Action: "fsm_log", CorrelationIDs: []string{"c2", "c1"}, Metadata: ir.IRObject{}},
	)
	tr := New(entries)

	j, err := tr.TraceTokenJourney("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"src", "mux", "early", "agg", "sink", "proc"}, j.Nodes)
	assert.Equal(t, []string{"aggregate:sum", "process:x"}, j.Transformations)
	assert.Equal(t, int64(9), j.TotalTime)
	assert.Equal(t, 3, j.Fanouts)
	assert.Equal(t, 1, j.Fanins)
	require.Len(t, j.Activities, 7)

	j, err = tr.TraceTokenJourney("c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, j.Nodes)
	assert.Equal(t, int64(3), j.TotalTime)

	_, err = tr.TraceTokenJourney("c9")
	assert.ErrorIs(t, err, ErrCorrelationNotFound)
}

func TestAncestryOverSimulatedLedger(t *testing.T) {
	sc := testutil.NewScenario("fan").
		Node(testutil.Source("src")).
		Node(ir.NodeConfig{NodeID: "mux", Type: ir.NodeTypeMultiplexer}).
		Node(testutil.Queue("agg", 2, ir.AggregateCount)).
		Node(testutil.Sink("sink")).
		Connect("src", "", "mux", "").
		Connect("mux", "a", "agg", "left").
		Connect("mux", "b", "agg", "right").
		Connect("agg", "", "sink", "").
		Build()
	res, err := engine.Simulate(context.Background(), sc, []ir.ExternalEvent{
		testutil.Seed("e1", "src", 0, map[string]any{"n": 1}),
		testutil.Seed("e2", "src", 5, map[string]any{"n": 2}),
	}, engine.Limits{})
	require.NoError(t, err)

	tr := New(res.Entries)
	require.NotEmpty(t, tr.Tokens())
	for _, rec := range tr.Tokens() {
		tree, err := tr.BuildAncestryTree(rec.ID)
		require.NoError(t, err)
		assert.False(t, tree.CycleDetected())

		down, err := tr.Descendants(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, len(down), tree.TotalDescendants, rec.ID)
		up, err := tr.Ancestors(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, len(up), tree.TotalAncestors, rec.ID)

		for _, p := range rec.Parents {
			parent, err := tr.Token(p)
			require.NoError(t, err)
			assert.Less(t, parent.Generation, rec.Generation)
		}
	}

	assert.Len(t, tr.RootTokens(), 2)
	assert.Len(t, tr.ConvergencePoints(), 2)
	assert.Len(t, tr.LongestPath(), 3)
}
