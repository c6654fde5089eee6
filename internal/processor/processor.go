// Package processor defines the node processor contract and the built-in
// processors.
//
// A processor is a pure transformation
//
//	(event, node config, node state) -> (new events, new state, activities)
//
// Processors never read the wall clock, draw unseeded randomness or do I/O:
// identical scenario and external-event inputs must produce identical
// ledgers. State values handed to Process are treated as immutable; a
// processor that changes state returns a fresh value in Result.State.
package processor

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/flowsim/internal/expr"
	"github.com/roach88/flowsim/internal/ir"
)

// State is the per-node runtime state owned by the engine.
type State interface {
	// Snapshot renders the state for display and session snapshots.
	Snapshot() ir.IRObject
}

// Result is the outcome of processing one event.
//
// Events carry no ID or CausedBy; the engine assigns both. A nil State
// leaves the node's state unchanged.
type Result struct {
	Events     []ir.Event
	State      State
	Activities []ir.ActivityEntry
}

// Processor implements one node type.
type Processor interface {
	NodeType() ir.NodeType
	SupportedEvents() []ir.EventType
	Process(env *Env, ev ir.Event, cfg ir.NodeConfig, st State) (Result, error)
}

// Env is the read-only context shared by every processor of a run.
type Env struct {
	Globals      ir.IRObject
	Guards       *expr.Evaluator
	StrictGuards bool
}

// NewEnv creates an Env with a fresh evaluator.
func NewEnv(globals ir.IRObject, strict bool) *Env {
	if globals == nil {
		globals = ir.IRObject{}
	}
	return &Env{Globals: globals, Guards: expr.New(), StrictGuards: strict}
}

func (env *Env) evaluator() *expr.Evaluator {
	if env.Guards == nil {
		env.Guards = expr.New()
	}
	return env.Guards
}

// ValidateEvent rejects event types p does not declare.
func ValidateEvent(p Processor, ev ir.Event) error {
	if slices.Contains(p.SupportedEvents(), ev.Type) {
		return nil
	}
	return &UnsupportedEventError{NodeType: p.NodeType(), NodeID: ev.TargetNodeID, EventType: ev.Type}
}

// guard evaluates a condition for cfg. An empty condition holds.
//
// A failing expression is reported as a guard_error activity and treated
// as not satisfied; with StrictGuards it is returned as a *GuardError and
// the event goes down the node error path instead.
func (env *Env) guard(cfg ir.NodeConfig, tick int64, cond string, scope ir.IRObject, res *Result) (bool, error) {
	if cond == "" {
		return true, nil
	}
	ok, err := env.evaluator().Truthy(cond, scope)
	if err == nil {
		return ok, nil
	}
	if env.StrictGuards {
		return false, &GuardError{NodeID: cfg.NodeID, Expression: cond, Err: err}
	}
	slog.Warn("guard evaluation failed",
		"node_id", cfg.NodeID,
		"expression", cond,
		"error", err,
	)
	res.Activities = append(res.Activities, ir.ActivityEntry{
		Tick:     tick,
		NodeID:   cfg.NodeID,
		NodeType: cfg.Type,
		Action:   ir.ActionGuardError,
		Value:    ir.IRString(cond),
		Metadata: ir.IRObject{"error": ir.IRString(err.Error())},
	})
	return false, nil
}

// eval evaluates a value expression. Failure handling matches guard; the
// bool result is false when the value should be skipped.
func (env *Env) eval(cfg ir.NodeConfig, tick int64, src string, scope ir.IRObject, res *Result) (ir.IRValue, bool, error) {
	v, err := env.evaluator().Eval(src, scope)
	if err == nil {
		return v, true, nil
	}
	if env.StrictGuards {
		return nil, false, &GuardError{NodeID: cfg.NodeID, Expression: src, Err: err}
	}
	slog.Warn("expression evaluation failed",
		"node_id", cfg.NodeID,
		"expression", src,
		"error", err,
	)
	res.Activities = append(res.Activities, ir.ActivityEntry{
		Tick:     tick,
		NodeID:   cfg.NodeID,
		NodeType: cfg.Type,
		Action:   ir.ActionGuardError,
		Value:    ir.IRString(src),
		Metadata: ir.IRObject{"error": ir.IRString(err.Error())},
	})
	return nil, false, nil
}

// tokenScope builds the evaluation context for expressions over tok:
// globals, then the token's value fields, then the fixed names value,
// token, globals and tick.
func (env *Env) tokenScope(tok ir.Token, tick int64) ir.IRObject {
	scope := ir.IRObject{}
	for k, v := range env.Globals {
		scope[k] = v
	}
	for k, v := range tok.Value {
		scope[k] = v
	}
	scope["value"] = tok.Value
	scope["token"] = tok.ToIR()
	scope["globals"] = env.Globals
	scope["tick"] = ir.IRInt(tick)
	return scope
}

// newToken assembles a token from a generated identity.
func newToken(id ir.DeterministicTokenID, typ string, value ir.IRObject, meta ir.IRObject, ts int64, nodeID string) ir.Token {
	if value == nil {
		value = ir.IRObject{}
	}
	return ir.Token{
		ID:             id.ID,
		Type:           typ,
		Value:          value,
		CorrelationIDs: id.CorrelationIDs,
		Lineage:        id.ParentIDs,
		Metadata:       meta,
		Timestamp:      ts,
		SourceNodeID:   nodeID,
	}
}

// emitEvent asks the engine to route tok along cfg's outputs. A non-empty
// output restricts routing to that port.
func emitEvent(cfg ir.NodeConfig, tok ir.Token, ts int64, output string) ir.Event {
	ev := ir.Event{
		Type:         ir.EventDataEmit,
		Timestamp:    ts,
		SourceNodeID: cfg.NodeID,
		Token:        &tok,
	}
	if output != "" {
		ev.Metadata = ir.IRObject{ir.MetaOutput: ir.IRString(output)}
	}
	return ev
}

// selfEvent schedules an event of type t back to cfg's own node.
func selfEvent(cfg ir.NodeConfig, t ir.EventType, ts int64, data ir.IRObject, tok *ir.Token) ir.Event {
	return ir.Event{
		Type:         t,
		Timestamp:    ts,
		SourceNodeID: cfg.NodeID,
		TargetNodeID: cfg.NodeID,
		Data:         data,
		Token:        tok,
	}
}

func requireToken(cfg ir.NodeConfig, ev ir.Event) (ir.Token, error) {
	if ev.Token == nil {
		return ir.Token{}, fmt.Errorf("node %s: %s event without a token", cfg.NodeID, ev.Type)
	}
	return *ev.Token, nil
}
