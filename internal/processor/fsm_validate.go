package processor

import (
	"fmt"
	"strings"

	"github.com/roach88/flowsim/internal/expr"
	"github.com/roach88/flowsim/internal/ir"
)

var knownFSMActions = map[string]bool{
	ir.FSMActionEmitData:         true,
	ir.FSMActionModifyToken:      true,
	ir.FSMActionSetVariable:      true,
	ir.FSMActionLogActivity:      true,
	ir.FSMActionSendNotification: true,
}

// ValidateFSM checks a normalized machine. Problems are fatal for the node;
// warnings are advisory.
//
// Rules: exactly one initial state, unique state ids, transitions and
// timeouts reference known states, timeout durations are positive and
// action types are known. A condition or expression that does not compile
// is only a warning: it fails again at evaluation time, where it counts as
// not satisfied.
func ValidateFSM(m ir.CanonicalFSM) (problems []error, warnings []string) {
	known := map[string]bool{}
	for _, s := range m.States {
		if s.ID == "" {
			problems = append(problems, fmt.Errorf("state with empty id"))
			continue
		}
		if known[s.ID] {
			problems = append(problems, fmt.Errorf("duplicate state %q", s.ID))
		}
		known[s.ID] = true
	}

	switch initial := m.InitialStates(); len(initial) {
	case 0:
		problems = append(problems, fmt.Errorf("no initial state"))
	case 1:
	default:
		problems = append(problems, fmt.Errorf("multiple initial states: %s", strings.Join(initial, ", ")))
	}
	if len(m.FinalStates()) == 0 {
		warnings = append(warnings, "no final state: tokens can never complete")
	}

	addActions := func(where string, actions []ir.FSMAction) {
		p, w := checkActions(where, actions)
		problems = append(problems, p...)
		warnings = append(warnings, w...)
	}

	for _, s := range m.States {
		addActions(fmt.Sprintf("state %q onEntry", s.ID), s.OnEntry)
		addActions(fmt.Sprintf("state %q onExit", s.ID), s.OnExit)
		if t := s.Timeout; t != nil {
			if t.Duration <= 0 {
				problems = append(problems, fmt.Errorf("state %q: timeout duration must be positive", s.ID))
			}
			if !known[t.TargetState] {
				problems = append(problems, fmt.Errorf("state %q: timeout target %q is not a state", s.ID, t.TargetState))
			}
			if t.Action != nil {
				addActions(fmt.Sprintf("state %q timeout", s.ID), []ir.FSMAction{*t.Action})
			}
		}
	}

	for i, tr := range m.Transitions {
		where := fmt.Sprintf("transition %d (%s -> %s)", i, tr.From, tr.To)
		if !known[tr.From] {
			problems = append(problems, fmt.Errorf("%s: unknown from state %q", where, tr.From))
		}
		if !known[tr.To] {
			problems = append(problems, fmt.Errorf("%s: unknown to state %q", where, tr.To))
		}
		if w := compileWarning(where+": condition", tr.Condition); w != "" {
			warnings = append(warnings, w)
		}
		addActions(where, tr.Actions)
	}
	return problems, warnings
}

func checkActions(where string, actions []ir.FSMAction) (problems []error, warnings []string) {
	for i, a := range actions {
		at := fmt.Sprintf("%s action %d", where, i)
		if !knownFSMActions[a.Type] {
			problems = append(problems, fmt.Errorf("%s: unknown type %q", at, a.Type))
			continue
		}
		if w := compileWarning(at+": condition", a.Condition); w != "" {
			warnings = append(warnings, w)
		}
		if a.Type == ir.FSMActionSetVariable {
			if a.Variable == "" {
				problems = append(problems, fmt.Errorf("%s: set_variable without variable", at))
			}
			if w := compileWarning(at+": expression", a.Expression); w != "" {
				warnings = append(warnings, w)
			}
		}
	}
	return problems, warnings
}

// compileWarning describes src when it is set but does not compile.
func compileWarning(where, src string) string {
	if src == "" {
		return ""
	}
	if _, err := expr.Compile(src); err != nil {
		return fmt.Sprintf("%s %q does not compile and evaluates as false: %v", where, src, err)
	}
	return ""
}
