package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowsim/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] t=%d %s %s\n", ev.Seq, ev.Tick, nodeLabel(ev.NodeID), ev.Action)
		}
	}
	return buf.String()
}

func nodeLabel(id string) string {
	if id == "" {
		return "-"
	}
	return id
}

// EvaluateAssertions evaluates every assertion and returns one message
// per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertActivityContains:
			err = assertActivityContains(result.Trace, a)
		case AssertActivityOrder:
			err = assertActivityOrder(result.Trace, a)
		case AssertActivityCount:
			err = assertActivityCount(result.Trace, a)
		case AssertOutcome:
			err = assertOutcome(result, a)
		case AssertNodeState:
			err = assertNodeState(result, a)
		case AssertNodeErrors:
			err = assertNodeErrors(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// matches reports whether ev is selected by a's action, node and
// correlation filters.
func matches(ev TraceEvent, a Assertion) bool {
	if ev.Action != a.Action {
		return false
	}
	if a.Node != "" && ev.NodeID != a.Node {
		return false
	}
	if a.Correlation != "" && !slices.Contains(ev.CorrelationIDs, a.Correlation) {
		return false
	}
	return true
}

// assertActivityContains checks that some entry matches the filters and
// carries a value containing every expected field.
func assertActivityContains(trace []TraceEvent, a Assertion) error {
	want, err := ir.ObjectFromGo(a.Value)
	if err != nil {
		return fmt.Errorf("activity_contains: expected value: %w", err)
	}
	for _, ev := range trace {
		if matches(ev, a) && (len(want) == 0 || containsSubset(ev.Value, want)) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertActivityContains,
		Expected: fmt.Sprintf("%s at %s with value %v", a.Action, nodeLabel(a.Node), a.Value),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertActivityOrder checks that the first occurrences of the listed
// actions appear in order. Other entries may come between them.
func assertActivityOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		for _, want := range a.Actions {
			if ev.Action == want && positions[want] == 0 {
				positions[want] = i + 1
			}
		}
	}
	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertActivityOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertActivityOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertActivityCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertActivityCount,
			Expected: fmt.Sprintf("%d occurrences of %s at %s", a.Count, a.Action, nodeLabel(a.Node)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertOutcome(result *Result, a Assertion) error {
	if result.Outcome != a.Outcome {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: a.Outcome,
			Actual:   result.Outcome,
		}
	}
	return nil
}

// assertNodeState checks the node's final state against a subset of
// expected fields.
func assertNodeState(result *Result, a Assertion) error {
	state, ok := result.NodeStates[a.Node]
	if !ok {
		return &AssertionError{
			Type:     AssertNodeState,
			Expected: fmt.Sprintf("state for node %s", a.Node),
			Actual:   "node has no state",
		}
	}
	want, err := ir.ObjectFromGo(a.Expect)
	if err != nil {
		return fmt.Errorf("node_state: expected value: %w", err)
	}
	for _, key := range want.SortedKeys() {
		got, ok := state[key]
		if !ok || !containsSubset(got, want[key]) {
			return &AssertionError{
				Type:     AssertNodeState,
				Expected: fmt.Sprintf("%s.%s = %s", a.Node, key, render(want[key])),
				Actual:   fmt.Sprintf("%s.%s = %s", a.Node, key, render(got)),
			}
		}
	}
	return nil
}

// assertNodeErrors counts recorded node errors, optionally filtered by
// node and code.
func assertNodeErrors(result *Result, a Assertion) error {
	count := 0
	for _, rec := range result.NodeErrors {
		node, code, _ := strings.Cut(rec, ": ")
		if (a.Node == "" || node == a.Node) && (a.Code == "" || code == a.Code) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertNodeErrors,
			Expected: fmt.Sprintf("%d node errors", a.Count),
			Actual:   fmt.Sprintf("%d: %v", count, result.NodeErrors),
		}
	}
	return nil
}

// containsSubset reports whether got contains want: objects match when
// every expected key matches, everything else must be equal.
func containsSubset(got, want ir.IRValue) bool {
	wantObj, ok := want.(ir.IRObject)
	if !ok {
		return render(got) == render(want)
	}
	gotObj, ok := got.(ir.IRObject)
	if !ok {
		return false
	}
	for k, v := range wantObj {
		g, ok := gotObj[k]
		if !ok || !containsSubset(g, v) {
			return false
		}
	}
	return true
}

func render(v ir.IRValue) string {
	if v == nil {
		return "null"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
