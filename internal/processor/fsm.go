package processor

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/roach88/flowsim/internal/ir"
)

// Trigger names the FSM records for transitions it forces itself.
const (
	TriggerTimeout = "timeout"
	triggerEnter   = "enter"
	wildcardEvent  = "*"
)

// FSM runs one state machine per subject (a token, or a correlation id
// with trackBy: correlation).
//
// On each TokenArrival the subject's candidate transitions are those
// leaving its current state whose event matches the arrival's trigger
// (value.event, else value.action, else the event's "event" metadata) or
// is empty or "*". Candidates are stable-sorted by ascending priority and
// the first whose condition holds fires, at most one per arrival.
type FSM struct{}

// FSMNodeState is the node-level arena of per-subject machines.
type FSMNodeState struct {
	Machine  ir.CanonicalFSM
	Disabled bool
	Warnings []string
	Subjects map[string]*TokenFSMState
	// Order lists subject keys in first-seen order.
	Order []string
	Nonce int64
}

// TokenFSMState is the runtime record of one subject.
type TokenFSMState struct {
	TokenID          string
	CurrentState     string
	CorrelationIDs   []string
	StateHistory     []StateChange
	Variables        ir.IRObject
	LastTransition   *StateChange
	TimeoutScheduled *ScheduledTimeout
	// Token is the in-flight token: the last one seen or emitted for this
	// subject, with any modify_token changes applied.
	Token ir.Token
}

// StateChange records one entry into a state.
type StateChange struct {
	From    string
	To      string
	Event   string
	Trigger string
	Tick    int64
}

// ScheduledTimeout identifies the pending timeout of a subject. Nonce makes
// a timeout for an earlier visit to the same state stale.
type ScheduledTimeout struct {
	State  string
	FireAt int64
	Nonce  int64
}

// Snapshot implements State.
func (s *FSMNodeState) Snapshot() ir.IRObject {
	subjects := ir.IRObject{}
	counts := map[string]int{}
	for _, key := range s.Order {
		subj := s.Subjects[key]
		counts[subj.CurrentState]++
		entry := ir.IRObject{
			"tokenId":      ir.IRString(subj.TokenID),
			"currentState": ir.IRString(subj.CurrentState),
			"transitions":  ir.IRInt(len(subj.StateHistory) - 1),
			"variables":    subj.Variables.Clone(),
		}
		if subj.TimeoutScheduled != nil {
			entry["timeoutAt"] = ir.IRInt(subj.TimeoutScheduled.FireAt)
		}
		subjects[key] = entry
	}
	stateCounts := ir.IRObject{}
	for k, v := range counts {
		stateCounts[k] = ir.IRInt(v)
	}
	return ir.IRObject{
		"disabled":    ir.IRBool(s.Disabled),
		"subjects":    subjects,
		"stateCounts": stateCounts,
	}
}

// Subject returns the record for key.
func (s *FSMNodeState) Subject(key string) (*TokenFSMState, bool) {
	subj, ok := s.Subjects[key]
	return subj, ok
}

// shallow copies the arena; subject records stay shared until touched.
func (s *FSMNodeState) shallow() *FSMNodeState {
	c := *s
	c.Subjects = make(map[string]*TokenFSMState, len(s.Subjects))
	for k, v := range s.Subjects {
		c.Subjects[k] = v
	}
	c.Order = slices.Clone(s.Order)
	return &c
}

func (t *TokenFSMState) clone() *TokenFSMState {
	c := *t
	c.CorrelationIDs = slices.Clone(t.CorrelationIDs)
	c.StateHistory = slices.Clone(t.StateHistory)
	c.Variables = t.Variables.Clone()
	if t.LastTransition != nil {
		lt := *t.LastTransition
		c.LastTransition = &lt
	}
	if t.TimeoutScheduled != nil {
		ts := *t.TimeoutScheduled
		c.TimeoutScheduled = &ts
	}
	return &c
}

func (*FSM) NodeType() ir.NodeType { return ir.NodeTypeFSM }

func (*FSM) SupportedEvents() []ir.EventType {
	return []ir.EventType{ir.EventSimulationStart, ir.EventTokenArrival, ir.EventTimeTimeout}
}

func (p *FSM) Process(env *Env, ev ir.Event, cfg ir.NodeConfig, st State) (Result, error) {
	prev, _ := st.(*FSMNodeState)
	var startup []ir.ActivityEntry
	if ev.Type == ir.EventSimulationStart || prev == nil {
		// A node that missed SimulationStart is initialized lazily.
		init, res, err := p.start(cfg, ev.Timestamp)
		if err != nil || ev.Type == ir.EventSimulationStart {
			return res, err
		}
		prev = init
		startup = res.Activities
	}
	if prev.Disabled {
		return Result{}, fmt.Errorf("%w: node %s is disabled", ErrInvalidFSMConfig, cfg.NodeID)
	}

	run := &fsmRun{
		env:  env,
		cfg:  cfg,
		next: prev.shallow(),
		tick: ev.Timestamp,
	}
	run.res.State = run.next
	run.res.Activities = startup

	var err error
	switch ev.Type {
	case ir.EventTokenArrival:
		err = run.arrival(ev)
	case ir.EventTimeTimeout:
		err = run.timeout(ev)
	default:
		err = &UnsupportedEventError{NodeType: cfg.Type, NodeID: cfg.NodeID, EventType: ev.Type}
	}
	if err != nil {
		return Result{}, err
	}
	return run.res, nil
}

// start normalizes and validates the configuration. An invalid machine
// yields a disabled state, a config_error activity, and the error.
func (p *FSM) start(cfg ir.NodeConfig, tick int64) (*FSMNodeState, Result, error) {
	st := &FSMNodeState{Subjects: map[string]*TokenFSMState{}}
	if cfg.FSM != nil {
		st.Machine = cfg.FSM.Normalize()
	}
	res := Result{State: st}

	problems, warnings := ValidateFSM(st.Machine)
	st.Warnings = warnings
	for _, w := range warnings {
		slog.Warn("fsm config warning", "node_id", cfg.NodeID, "warning", w)
		res.Activities = append(res.Activities, ir.ActivityEntry{
			Tick:     tick,
			NodeID:   cfg.NodeID,
			NodeType: cfg.Type,
			Action:   ir.ActionConfigWarning,
			Value:    ir.IRString(w),
			Metadata: ir.IRObject{},
		})
	}
	if len(problems) == 0 {
		return st, res, nil
	}

	st.Disabled = true
	err := &InvalidFSMConfigError{NodeID: cfg.NodeID, Problems: problems}
	res.Activities = append(res.Activities, ir.ActivityEntry{
		Tick:     tick,
		NodeID:   cfg.NodeID,
		NodeType: cfg.Type,
		Action:   ir.ActionConfigError,
		Value:    ir.IRString(err.Error()),
		Metadata: ir.IRObject{"problems": ir.IRInt(len(problems))},
	})
	return st, res, err
}

// fsmRun carries the working state of one Process call.
type fsmRun struct {
	env  *Env
	cfg  ir.NodeConfig
	next *FSMNodeState
	tick int64
	res  Result
}

func (r *fsmRun) trackBy() string {
	if r.cfg.FSM == nil {
		return ir.TrackByToken
	}
	return r.cfg.FSM.TrackBy
}

func subjectKey(trackBy string, tok ir.Token) string {
	if trackBy == ir.TrackByCorrelation && len(tok.CorrelationIDs) > 0 {
		return tok.CorrelationIDs[0]
	}
	return tok.ID
}

// triggerOf names the business event an arrival carries.
func triggerOf(tok ir.Token, ev ir.Event) string {
	if t := tok.Value.String("event"); t != "" {
		return t
	}
	if t := tok.Value.String("action"); t != "" {
		return t
	}
	return ev.Metadata.String("event")
}

func (r *fsmRun) arrival(ev ir.Event) error {
	tok, err := requireToken(r.cfg, ev)
	if err != nil {
		return err
	}
	key := subjectKey(r.trackBy(), tok)

	subj, seen := r.next.Subjects[key]
	if seen {
		subj = subj.clone()
		subj.Token = tok
		subj.CorrelationIDs = ir.SortedUnique(append(subj.CorrelationIDs, tok.CorrelationIDs...))
		r.next.Subjects[key] = subj
	} else {
		subj, err = r.enter(key, tok)
		if err != nil {
			return err
		}
	}

	trigger := triggerOf(tok, ev)
	tr, ok, err := r.selectTransition(subj, trigger)
	if err != nil || !ok {
		return err
	}
	return r.transition(key, subj, tr, trigger)
}

// enter instantiates a subject at the initial state.
func (r *fsmRun) enter(key string, tok ir.Token) (*TokenFSMState, error) {
	initial := r.next.Machine.InitialStates()[0]

	vars := ir.IRObject{}
	if r.cfg.FSM != nil {
		v, err := ir.ObjectFromGo(r.cfg.FSM.Variables)
		if err != nil {
			return nil, fmt.Errorf("fsm %s: variables: %w", r.cfg.NodeID, err)
		}
		vars = v
	}

	subj := &TokenFSMState{
		TokenID:        tok.ID,
		CurrentState:   initial,
		CorrelationIDs: ir.SortedUnique(tok.CorrelationIDs),
		StateHistory:   []StateChange{{To: initial, Trigger: triggerEnter, Tick: r.tick}},
		Variables:      vars,
		Token:          tok,
	}
	r.next.Subjects[key] = subj
	r.next.Order = append(r.next.Order, key)

	r.res.Activities = append(r.res.Activities, r.activity(subj, ir.ActionTokenEnteredFSM, tok.Value.Clone(), ir.IRObject{
		ir.MetaTokenID: ir.IRString(tok.ID),
		"state":        ir.IRString(initial),
		"subject":      ir.IRString(key),
	}))

	state, _ := r.next.Machine.State(initial)
	if err := r.runActions(key, subj, state.OnEntry, triggerEnter); err != nil {
		return nil, err
	}
	r.scheduleTimeout(key, subj, state)
	return subj, nil
}

func (r *fsmRun) selectTransition(subj *TokenFSMState, trigger string) (ir.FSMTransition, bool, error) {
	var candidates []ir.FSMTransition
	for _, tr := range r.next.Machine.Transitions {
		if tr.From != subj.CurrentState {
			continue
		}
		if tr.Event != "" && tr.Event != wildcardEvent && tr.Event != trigger {
			continue
		}
		candidates = append(candidates, tr)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	scope := r.scope(subj, trigger)
	for _, tr := range candidates {
		ok, err := r.env.guard(r.cfg, r.tick, tr.Condition, scope, &r.res)
		if err != nil {
			return ir.FSMTransition{}, false, err
		}
		if ok {
			return tr, true, nil
		}
	}
	return ir.FSMTransition{}, false, nil
}

// transition applies tr: exit actions, transition actions, state change,
// entry actions, timeout scheduling, then emission.
func (r *fsmRun) transition(key string, subj *TokenFSMState, tr ir.FSMTransition, trigger string) error {
	from, _ := r.next.Machine.State(tr.From)
	to, _ := r.next.Machine.State(tr.To)

	if err := r.runActions(key, subj, from.OnExit, trigger); err != nil {
		return err
	}
	if err := r.runActions(key, subj, tr.Actions, trigger); err != nil {
		return err
	}

	change := StateChange{From: tr.From, To: tr.To, Event: tr.Event, Trigger: trigger, Tick: r.tick}
	subj.CurrentState = tr.To
	subj.StateHistory = append(subj.StateHistory, change)
	subj.LastTransition = &change
	subj.TimeoutScheduled = nil

	r.res.Activities = append(r.res.Activities, r.activity(subj, ir.ActionStateTransition, ir.IRObject{
		"from":    ir.IRString(tr.From),
		"to":      ir.IRString(tr.To),
		"event":   ir.IRString(tr.Event),
		"trigger": ir.IRString(trigger),
	}, ir.IRObject{
		ir.MetaTokenID: ir.IRString(subj.Token.ID),
		ir.MetaTrigger: ir.IRString(trigger),
		"subject":      ir.IRString(key),
	}))

	if err := r.runActions(key, subj, to.OnEntry, trigger); err != nil {
		return err
	}
	r.scheduleTimeout(key, subj, to)

	if len(r.cfg.Outputs) > 0 || to.IsFinal {
		return r.emitState(subj, change, to.IsFinal)
	}
	return nil
}

// emitState sends a token carrying the new state downstream. A final state
// marks the token and event with fsmCompleted and finalState.
func (r *fsmRun) emitState(subj *TokenFSMState, change StateChange, final bool) error {
	id, err := ir.FSMTokenID(r.cfg.NodeID, r.tick, subj.Token.ID, ir.TransitionDescription{
		From:    change.From,
		To:      change.To,
		Event:   change.Event,
		Trigger: change.Trigger,
	}, subj.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("fsm %s: %w", r.cfg.NodeID, err)
	}

	meta := ir.IRObject{
		"fsmState":     ir.IRString(change.To),
		ir.MetaTrigger: ir.IRString(change.Trigger),
	}
	if final {
		meta[ir.MetaFSMCompleted] = ir.IRBool(true)
		meta[ir.MetaFinalState] = ir.IRString(change.To)
	}
	value := subj.Token.Value.Merge(ir.IRObject{"state": ir.IRString(change.To)})
	tok := newToken(id, subj.Token.Type, value, meta, r.tick, r.cfg.NodeID)

	ev := emitEvent(r.cfg, tok, r.tick, "")
	ev.Metadata = meta.Clone()
	r.res.Events = append(r.res.Events, ev)
	r.res.Activities = append(r.res.Activities, ir.TokenActivity(r.cfg.Type, ir.ActionFSMOutput, tok,
		fmt.Sprintf("transition:%s->%s", change.From, change.To)))

	subj.Token = tok
	return nil
}

func (r *fsmRun) scheduleTimeout(key string, subj *TokenFSMState, state ir.FSMState) {
	if state.Timeout == nil || state.IsFinal {
		return
	}
	r.next.Nonce++
	fireAt := r.tick + state.Timeout.Duration
	subj.TimeoutScheduled = &ScheduledTimeout{State: state.ID, FireAt: fireAt, Nonce: r.next.Nonce}
	r.res.Events = append(r.res.Events, selfEvent(r.cfg, ir.EventTimeTimeout, fireAt, ir.IRObject{
		"subject": ir.IRString(key),
		"state":   ir.IRString(state.ID),
		"nonce":   ir.IRInt(r.next.Nonce),
	}, nil))
}

// timeout fires a scheduled timeout unless it is stale: the subject left
// the state, or re-entered it and scheduled a newer timeout.
func (r *fsmRun) timeout(ev ir.Event) error {
	key := ev.Data.String("subject")
	nonce, _ := ev.Data.Int("nonce")

	subj, ok := r.next.Subjects[key]
	if !ok || subj.TimeoutScheduled == nil || subj.TimeoutScheduled.Nonce != nonce ||
		subj.CurrentState != ev.Data.String("state") {
		slog.Debug("stale fsm timeout ignored", "node_id", r.cfg.NodeID, "subject", key, "nonce", nonce)
		return nil
	}
	subj = subj.clone()
	r.next.Subjects[key] = subj

	state, _ := r.next.Machine.State(subj.CurrentState)
	r.res.Activities = append(r.res.Activities, r.activity(subj, ir.ActionTimeoutFired, ir.IRObject{
		"state":       ir.IRString(state.ID),
		"targetState": ir.IRString(state.Timeout.TargetState),
	}, ir.IRObject{
		ir.MetaTokenID: ir.IRString(subj.Token.ID),
		ir.MetaTrigger: ir.IRString(TriggerTimeout),
		"subject":      ir.IRString(key),
	}))

	if state.Timeout.Action != nil {
		if err := r.runActions(key, subj, []ir.FSMAction{*state.Timeout.Action}, TriggerTimeout); err != nil {
			return err
		}
	}
	return r.transition(key, subj, ir.FSMTransition{
		From:  state.ID,
		To:    state.Timeout.TargetState,
		Event: TriggerTimeout,
	}, TriggerTimeout)
}

// scope is the evaluation context of conditions and expressions: globals,
// then FSM variables, then token value fields, then the fixed names.
func (r *fsmRun) scope(subj *TokenFSMState, trigger string) ir.IRObject {
	scope := r.env.tokenScope(subj.Token, r.tick)
	for k, v := range subj.Variables {
		if _, isValueField := subj.Token.Value[k]; !isValueField {
			scope[k] = v
		}
	}
	scope["variables"] = subj.Variables
	scope["state"] = ir.IRString(subj.CurrentState)
	scope["event"] = ir.IRString(trigger)
	return scope
}

func (r *fsmRun) activity(subj *TokenFSMState, action string, value ir.IRValue, meta ir.IRObject) ir.ActivityEntry {
	return ir.ActivityEntry{
		Tick:           r.tick,
		NodeID:         r.cfg.NodeID,
		NodeType:       r.cfg.Type,
		Action:         action,
		Value:          value,
		CorrelationIDs: slices.Clone(subj.CorrelationIDs),
		Metadata:       meta,
	}
}
