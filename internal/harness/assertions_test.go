package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/flowsim/internal/ir"
)

func sampleResult() *Result {
	r := NewResult()
	r.Outcome = "completed"
	r.Trace = []TraceEvent{
		{Seq: 1, Action: ir.ActionSimulationStarted},
		{Seq: 2, Tick: 1, NodeID: "src", Action: ir.ActionEmit, Value: ir.IRObject{"amount": ir.IRInt(5), "meta": ir.IRObject{"tier": ir.IRString("gold")}}, CorrelationIDs: []string{"o-1"}},
		{Seq: 3, Tick: 1, NodeID: "mux", Action: ir.ActionSplit, CorrelationIDs: []string{"o-1"}},
		{Seq: 4, Tick: 1, NodeID: "mux", Action: ir.ActionSplit, CorrelationIDs: []string{"o-1"}},
		{Seq: 5, Tick: 3, NodeID: "sink", Action: ir.ActionConsume, Value: ir.IRObject{"amount": ir.IRInt(5)}, CorrelationIDs: []string{"o-1"}},
	}
	r.NodeStates = map[string]ir.IRObject{
		"sink": {"consumed": ir.IRInt(1), "recent": ir.IRArray{ir.IRString("t1")}},
	}
	r.NodeErrors = []string{"mux: UNKNOWN_OUTPUT", "sink: UNSUPPORTED_EVENT"}
	return r
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name string
		a    Assertion
		pass bool
	}{
		{"contains by action", Assertion{Type: AssertActivityContains, Action: ir.ActionConsume}, true},
		{"contains nested subset", Assertion{Type: AssertActivityContains, Action: ir.ActionEmit, Value: map[string]any{"meta": map[string]any{"tier": "gold"}}}, true},
		{"contains wrong value", Assertion{Type: AssertActivityContains, Action: ir.ActionEmit, Value: map[string]any{"amount": 6}}, false},
		{"contains wrong node", Assertion{Type: AssertActivityContains, Action: ir.ActionEmit, Node: "mux"}, false},
		{"contains by correlation", Assertion{Type: AssertActivityContains, Action: ir.ActionConsume, Correlation: "o-1"}, true},
		{"contains unknown correlation", Assertion{Type: AssertActivityContains, Action: ir.ActionConsume, Correlation: "o-2"}, false},
		{"count", Assertion{Type: AssertActivityCount, Action: ir.ActionSplit, Count: 2}, true},
		{"count by node", Assertion{Type: AssertActivityCount, Action: ir.ActionSplit, Node: "sink", Count: 0}, true},
		{"count mismatch", Assertion{Type: AssertActivityCount, Action: ir.ActionSplit, Count: 1}, false},
		{"order", Assertion{Type: AssertActivityOrder, Actions: []string{ir.ActionEmit, ir.ActionSplit, ir.ActionConsume}}, true},
		{"order reversed", Assertion{Type: AssertActivityOrder, Actions: []string{ir.ActionConsume, ir.ActionEmit}}, false},
		{"order missing", Assertion{Type: AssertActivityOrder, Actions: []string{ir.ActionEmit, ir.ActionJoin}}, false},
		{"outcome", Assertion{Type: AssertOutcome, Outcome: "completed"}, true},
		{"outcome mismatch", Assertion{Type: AssertOutcome, Outcome: "stuck"}, false},
		{"node state", Assertion{Type: AssertNodeState, Node: "sink", Expect: map[string]any{"consumed": 1}}, true},
		{"node state list", Assertion{Type: AssertNodeState, Node: "sink", Expect: map[string]any{"recent": []any{"t1"}}}, true},
		{"node state mismatch", Assertion{Type: AssertNodeState, Node: "sink", Expect: map[string]any{"consumed": 2}}, false},
		{"node state missing key", Assertion{Type: AssertNodeState, Node: "sink", Expect: map[string]any{"dropped": 0}}, false},
		{"node state unknown node", Assertion{Type: AssertNodeState, Node: "ghost", Expect: map[string]any{"x": 1}}, false},
		{"node errors total", Assertion{Type: AssertNodeErrors, Count: 2}, true},
		{"node errors by code", Assertion{Type: AssertNodeErrors, Code: "UNKNOWN_OUTPUT", Count: 1}, true},
		{"node errors by node", Assertion{Type: AssertNodeErrors, Node: "src", Count: 0}, true},
		{"node errors mismatch", Assertion{Type: AssertNodeErrors, Count: 0}, false},
		{"unknown type", Assertion{Type: "final_state"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.a})
			if tt.pass {
				assert.Empty(t, errs)
			} else {
				assert.Len(t, errs, 1)
			}
		})
	}
}

func TestAssertionErrorIncludesTrace(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{{Type: AssertActivityCount, Action: ir.ActionJoin, Count: 1}})
	if assert.Len(t, errs, 1) {
		assert.Contains(t, errs[0], "Assertion failed: activity_count")
		assert.Contains(t, errs[0], "[1] t=0 - simulation_started")
		assert.Contains(t, errs[0], "[5] t=3 sink consume")
	}
}

func TestRenderTrace(t *testing.T) {
	got := string(RenderTrace("sample", sampleResult()))
	assert.Equal(t, "case: sample\noutcome: completed\n"+
		"001 t=0 - simulation_started\n"+
		"002 t=1 src emit\n"+
		"003 t=1 mux split\n"+
		"004 t=1 mux split\n"+
		"005 t=3 sink consume\n", got)
}
