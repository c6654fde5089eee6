package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// FSM subject tracking modes.
const (
	TrackByToken       = "token"
	TrackByCorrelation = "correlation"
)

// FSM action kinds.
const (
	FSMActionEmitData         = "emit_data"
	FSMActionModifyToken      = "modify_token"
	FSMActionSetVariable      = "set_variable"
	FSMActionLogActivity      = "log_activity"
	FSMActionSendNotification = "send_notification"
)

// FSMConfig is the FSM section of a node.
//
// The state machine itself is a tagged variant: exactly one of Modern or
// Legacy is set, decided at decode time by the shape of "states" (a list
// for the modern form, a map keyed by state id for the legacy form). Both
// reduce to the same CanonicalFSM through Normalize.
type FSMConfig struct {
	TrackBy   string         `yaml:"trackBy,omitempty" json:"trackBy,omitempty" validate:"omitempty,oneof=token correlation"`
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`

	Modern *ModernFSM `yaml:"-" json:"-"`
	Legacy *LegacyFSM `yaml:"-" json:"-"`
}

// ModernFSM is the array-of-states / array-of-transitions form.
type ModernFSM struct {
	States      []FSMState      `yaml:"states" json:"states"`
	Transitions []FSMTransition `yaml:"transitions" json:"transitions"`
}

// LegacyFSM is the map-of-states form; transitions live inside each state.
type LegacyFSM struct {
	States map[string]LegacyState `yaml:"states" json:"states"`
}

// LegacyState is one entry of the legacy map. On maps an event name to a
// target state id or to a full transition description.
type LegacyState struct {
	Initial bool                        `yaml:"initial,omitempty" json:"initial,omitempty"`
	Final   bool                        `yaml:"final,omitempty" json:"final,omitempty"`
	OnEntry []FSMAction                 `yaml:"onEntry,omitempty" json:"onEntry,omitempty"`
	OnExit  []FSMAction                 `yaml:"onExit,omitempty" json:"onExit,omitempty"`
	Timeout *FSMTimeout                 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	On      map[string]LegacyTransition `yaml:"on,omitempty" json:"on,omitempty"`
}

// LegacyTransition accepts either a bare target state id or a mapping.
type LegacyTransition struct {
	To        string      `yaml:"to" json:"to"`
	Condition string      `yaml:"condition,omitempty" json:"condition,omitempty"`
	Priority  int         `yaml:"priority,omitempty" json:"priority,omitempty"`
	Actions   []FSMAction `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// FSMState is one state of the canonical (and modern) form.
type FSMState struct {
	ID        string      `yaml:"id" json:"id"`
	IsInitial bool        `yaml:"isInitial,omitempty" json:"isInitial,omitempty"`
	IsFinal   bool        `yaml:"isFinal,omitempty" json:"isFinal,omitempty"`
	OnEntry   []FSMAction `yaml:"onEntry,omitempty" json:"onEntry,omitempty"`
	OnExit    []FSMAction `yaml:"onExit,omitempty" json:"onExit,omitempty"`
	Timeout   *FSMTimeout `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// FSMTimeout forces a transition to TargetState Duration ticks after the
// state is entered, unless the token has left the state by then.
type FSMTimeout struct {
	Duration    int64      `yaml:"duration" json:"duration"`
	TargetState string     `yaml:"targetState" json:"targetState"`
	Action      *FSMAction `yaml:"action,omitempty" json:"action,omitempty"`
}

// FSMTransition moves a token From one state To another when Event matches
// and Condition holds. Lower Priority wins.
type FSMTransition struct {
	From      string      `yaml:"from" json:"from"`
	To        string      `yaml:"to" json:"to"`
	Event     string      `yaml:"event,omitempty" json:"event,omitempty"`
	Condition string      `yaml:"condition,omitempty" json:"condition,omitempty"`
	Actions   []FSMAction `yaml:"actions,omitempty" json:"actions,omitempty"`
	Priority  int         `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// FSMAction is an entry/exit/transition/timeout action.
//
// Which fields apply depends on Type:
//   - emit_data: Data (template), Target or Output, Delay
//   - modify_token: Fields
//   - set_variable: Variable plus Value or Expression
//   - log_activity: Message
//   - send_notification: Channel, Recipient, Message
type FSMAction struct {
	Type       string         `yaml:"type" json:"type"`
	Condition  string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	Target     string         `yaml:"target,omitempty" json:"target,omitempty"`
	Output     string         `yaml:"output,omitempty" json:"output,omitempty"`
	Delay      int64          `yaml:"delay,omitempty" json:"delay,omitempty"`
	Data       map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
	Fields     map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
	Variable   string         `yaml:"variable,omitempty" json:"variable,omitempty"`
	Value      any            `yaml:"value,omitempty" json:"value,omitempty"`
	Expression string         `yaml:"expression,omitempty" json:"expression,omitempty"`
	Message    string         `yaml:"message,omitempty" json:"message,omitempty"`
	Channel    string         `yaml:"channel,omitempty" json:"channel,omitempty"`
	Recipient  string         `yaml:"recipient,omitempty" json:"recipient,omitempty"`
}

// CanonicalFSM is the single in-memory form the FSM processor consumes.
type CanonicalFSM struct {
	States      []FSMState
	Transitions []FSMTransition
}

// State returns the state with the given id.
func (c CanonicalFSM) State(id string) (FSMState, bool) {
	for _, s := range c.States {
		if s.ID == id {
			return s, true
		}
	}
	return FSMState{}, false
}

// InitialStates returns the ids of every state marked initial.
func (c CanonicalFSM) InitialStates() []string {
	var out []string
	for _, s := range c.States {
		if s.IsInitial {
			out = append(out, s.ID)
		}
	}
	return out
}

// FinalStates returns the ids of every state marked final.
func (c CanonicalFSM) FinalStates() []string {
	var out []string
	for _, s := range c.States {
		if s.IsFinal {
			out = append(out, s.ID)
		}
	}
	return out
}

// fsmDocument is the wire shape shared by both variants.
type fsmDocument struct {
	TrackBy     string          `yaml:"trackBy,omitempty"`
	Variables   map[string]any  `yaml:"variables,omitempty"`
	States      yaml.Node       `yaml:"states"`
	Transitions []FSMTransition `yaml:"transitions,omitempty"`
}

// UnmarshalYAML decides the variant from the YAML node kind of "states".
func (c *FSMConfig) UnmarshalYAML(node *yaml.Node) error {
	var doc fsmDocument
	if err := node.Decode(&doc); err != nil {
		return err
	}

	*c = FSMConfig{TrackBy: doc.TrackBy, Variables: doc.Variables}

	switch doc.States.Kind {
	case yaml.SequenceNode:
		var states []FSMState
		if err := doc.States.Decode(&states); err != nil {
			return fmt.Errorf("fsm states: %w", err)
		}
		c.Modern = &ModernFSM{States: states, Transitions: doc.Transitions}
	case yaml.MappingNode:
		var states map[string]LegacyState
		if err := doc.States.Decode(&states); err != nil {
			return fmt.Errorf("fsm states: %w", err)
		}
		if len(doc.Transitions) > 0 {
			return fmt.Errorf("fsm: top-level transitions are not allowed with a map of states")
		}
		c.Legacy = &LegacyFSM{States: states}
	case 0:
		c.Modern = &ModernFSM{Transitions: doc.Transitions}
	default:
		return fmt.Errorf("fsm states: expected a list or a map, got %s", nodeKindName(doc.States.Kind))
	}
	return nil
}

// UnmarshalJSON decodes JSON through the YAML path; JSON is a YAML subset.
func (c *FSMConfig) UnmarshalJSON(data []byte) error {
	return yaml.Unmarshal(data, c)
}

// MarshalJSON writes the variant back in the form it was authored in.
func (c FSMConfig) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if c.TrackBy != "" {
		out["trackBy"] = c.TrackBy
	}
	if len(c.Variables) > 0 {
		out["variables"] = c.Variables
	}
	switch {
	case c.Legacy != nil:
		out["states"] = c.Legacy.States
	case c.Modern != nil:
		out["states"] = c.Modern.States
		if len(c.Modern.Transitions) > 0 {
			out["transitions"] = c.Modern.Transitions
		}
	}
	return json.Marshal(out)
}

// UnmarshalYAML accepts "on: {approve: approved}" as well as the mapping form.
func (t *LegacyTransition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.To = node.Value
		return nil
	}
	type plain LegacyTransition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = LegacyTransition(p)
	return nil
}

// Normalize reduces either variant to the canonical form.
//
// Legacy maps are walked in sorted key order (states, then events within a
// state), so normalization is deterministic regardless of map iteration.
// The modern form is returned as authored.
func (c FSMConfig) Normalize() CanonicalFSM {
	switch {
	case c.Legacy != nil:
		return normalizeLegacy(c.Legacy)
	case c.Modern != nil:
		return CanonicalFSM{
			States:      slices.Clone(c.Modern.States),
			Transitions: slices.Clone(c.Modern.Transitions),
		}
	}
	return CanonicalFSM{}
}

func normalizeLegacy(l *LegacyFSM) CanonicalFSM {
	ids := make([]string, 0, len(l.States))
	for id := range l.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out CanonicalFSM
	for _, id := range ids {
		st := l.States[id]
		out.States = append(out.States, FSMState{
			ID:        id,
			IsInitial: st.Initial,
			IsFinal:   st.Final,
			OnEntry:   st.OnEntry,
			OnExit:    st.OnExit,
			Timeout:   st.Timeout,
		})

		events := make([]string, 0, len(st.On))
		for ev := range st.On {
			events = append(events, ev)
		}
		sort.Strings(events)
		for _, ev := range events {
			tr := st.On[ev]
			out.Transitions = append(out.Transitions, FSMTransition{
				From:      id,
				To:        tr.To,
				Event:     ev,
				Condition: tr.Condition,
				Actions:   tr.Actions,
				Priority:  tr.Priority,
			})
		}
	}
	return out
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return fmt.Sprintf("kind %d", k)
}
