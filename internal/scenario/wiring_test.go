package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/testutil"
)

func TestValidateAcceptsDelivery(t *testing.T) {
	warnings, err := Validate(testutil.DeliveryScenario())
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidateProblems(t *testing.T) {
	tests := []struct {
		name  string
		build func() ir.Scenario
		code  string
	}{
		{
			name: "duplicate node id",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes = append(sc.Nodes, testutil.Sink("done"))
				return sc
			},
			code: CodeDuplicateNode,
		},
		{
			name: "back pointer mismatch",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes[1].Inputs[0].SourceOutputName = "elsewhere"
				return sc
			},
			code: CodeWiringMismatch,
		},
		{
			name: "missing destination input",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes[0].Outputs[0].DestinationInputName = "side"
				return sc
			},
			code: CodeWiringMismatch,
		},
		{
			name: "duplicate output name",
			build: func() ir.Scenario {
				return testutil.NewScenario("dup").
					Node(testutil.Source("s")).
					Node(testutil.Sink("a")).
					Node(testutil.Sink("b")).
					Connect("s", "out", "a", "in").
					Connect("s", "out", "b", "in").
					Build()
			},
			code: CodeDuplicatePort,
		},
		{
			name: "source with inputs",
			build: func() ir.Scenario {
				return testutil.NewScenario("loop").
					Node(testutil.Source("a")).
					Node(testutil.Source("b")).
					Chain("a", "b").
					Build()
			},
			code: CodeSourceInput,
		},
		{
			name: "section does not match type",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes[2].Process = &ir.ProcessConfig{Duration: 1}
				return sc
			},
			code: CodeSectionMismatch,
		},
		{
			name: "unknown node type",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes[2].Type = "Teleporter"
				return sc
			},
			code: CodeSchema,
		},
		{
			name: "missing node id",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes = append(sc.Nodes, ir.NodeConfig{Type: ir.NodeTypeSink})
				return sc
			},
			code: CodeField,
		},
		{
			name: "route to unknown output",
			build: func() ir.Scenario {
				mux := ir.NodeConfig{NodeID: "m", Type: ir.NodeTypeMultiplexer, Multiplexer: &ir.MultiplexerConfig{
					Strategy:      ir.StrategyCondition,
					Routes:        []ir.RouteConfig{{Output: "big", Condition: "amount > 10"}},
					DefaultOutput: "out",
				}}
				return testutil.NewScenario("mux").
					Node(testutil.Source("s")).
					Node(mux).
					Node(testutil.Sink("k")).
					Chain("s", "m", "k").
					Build()
			},
			code: CodeUnknownOutput,
		},
		{
			name: "fsm with two initial states",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes[1].FSM.Modern.States[1].IsInitial = true
				return sc
			},
			code: CodeFSM,
		},
		{
			name: "fsm emits on unknown output",
			build: func() ir.Scenario {
				sc := testutil.DeliveryScenario()
				sc.Nodes[1].FSM.Modern.States[1].OnEntry = []ir.FSMAction{{Type: ir.FSMActionEmitData, Output: "nowhere"}}
				return sc
			},
			code: CodeUnknownOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.build())
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.True(t, ve.Has(tt.code), "want %s in %v", tt.code, ve.Problems)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	sc := testutil.NewScenario("warn").
		Node(testutil.Source("s")).
		Node(testutil.FSM("f",
			[]ir.FSMState{{ID: "a", IsInitial: true}, {ID: "b"}},
			[]ir.FSMTransition{{From: "a", To: "b"}},
		)).
		Node(testutil.Sink("k")).
		Node(testutil.Sink("end")).
		Node(testutil.Sink("orphan")).
		Chain("s", "f", "k", "end").
		Build()

	warnings, err := Validate(sc)
	require.NoError(t, err)

	codes := map[string]int{}
	for _, w := range warnings {
		codes[w.Code]++
	}
	assert.Equal(t, map[string]int{WarnFSM: 1, WarnSinkOutput: 1, WarnNoInputs: 1}, codes)
}

func TestValidateExpressionsThatDoNotCompileAreWarnings(t *testing.T) {
	p := testutil.Process("p", 1, 1)
	p.Process.Transform = map[string]string{"total": "amount +"}
	mux := ir.NodeConfig{NodeID: "m", Type: ir.NodeTypeMultiplexer, Multiplexer: &ir.MultiplexerConfig{
		Strategy:      ir.StrategyCondition,
		Routes:        []ir.RouteConfig{{Output: "out", Condition: "amount >"}},
		DefaultOutput: "out",
	}}
	fsm := testutil.FSM("f",
		[]ir.FSMState{{ID: "a", IsInitial: true}, {ID: "b", IsFinal: true}},
		[]ir.FSMTransition{{From: "a", To: "b", Condition: "len(x) > 1"}},
	)
	sc := testutil.NewScenario("exprs").
		Node(testutil.Source("s")).
		Node(p).
		Node(mux).
		Node(fsm).
		Node(testutil.Sink("k")).
		Chain("s", "p", "m", "f", "k").
		Build()

	warnings, err := Validate(sc)
	require.NoError(t, err, "expressions that do not compile never block a run")

	paths := map[string]string{}
	for _, w := range warnings {
		paths[w.Path] = w.Code
	}
	assert.Equal(t, WarnExpression, paths["nodes[1].process.transform.total"])
	assert.Equal(t, WarnExpression, paths["nodes[2].multiplexer.routes[0].condition"])
	assert.Equal(t, WarnFSM, paths["nodes[3].fsm"])
}

func TestAnalyzeCycles(t *testing.T) {
	sc := testutil.NewScenario("loops").
		Node(testutil.Process("a", 1, 0)).
		Node(testutil.Process("b", 1, 0)).
		Node(testutil.Process("c", 1, 0)).
		Node(testutil.Process("d", 1, 0)).
		Node(testutil.Sink("e")).
		Chain("a", "b", "c").
		Connect("c", "back", "a", "loop").
		Connect("d", "self", "d", "again").
		Connect("c", "done", "e", "in").
		Build()

	got := AnalyzeCycles(sc)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b", "c", "a"}, got[0].Path)
	assert.Equal(t, "loop: a -> b -> c -> a", got[0].Message)
	assert.Equal(t, []string{"d", "d"}, got[1].Path)
	assert.Equal(t, "node d feeds itself", got[1].Message)

	warnings, err := Validate(sc)
	require.NoError(t, err)
	var cycles [][]string
	for _, w := range warnings {
		if w.Code == WarnCycle {
			cycles = append(cycles, w.Cycle)
		}
	}
	assert.Equal(t, [][]string{{"a", "b", "c", "a"}, {"d", "d"}}, cycles)
}

func TestAnalyzeCyclesAcyclic(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(testutil.DeliveryScenario()))
}
