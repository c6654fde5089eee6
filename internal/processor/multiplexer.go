package processor

import (
	"fmt"
	"slices"

	"github.com/roach88/flowsim/internal/ir"
)

// Multiplexer routes each arriving token to one or more outputs. Every
// chosen output gets its own child token, so a broadcast to three outputs
// yields three distinct descendants.
type Multiplexer struct{}

// MultiplexerState holds the round-robin cursor and per-output counts.
type MultiplexerState struct {
	Next     int
	Routed   map[string]int
	Unrouted int
}

// Snapshot implements State.
func (s *MultiplexerState) Snapshot() ir.IRObject {
	routed := ir.IRObject{}
	for k, v := range s.Routed {
		routed[k] = ir.IRInt(v)
	}
	return ir.IRObject{
		"next":     ir.IRInt(s.Next),
		"routed":   routed,
		"unrouted": ir.IRInt(s.Unrouted),
	}
}

func (*Multiplexer) NodeType() ir.NodeType { return ir.NodeTypeMultiplexer }

func (*Multiplexer) SupportedEvents() []ir.EventType {
	return []ir.EventType{ir.EventSimulationStart, ir.EventTokenArrival}
}

func (*Multiplexer) Process(env *Env, ev ir.Event, cfg ir.NodeConfig, st State) (Result, error) {
	next := &MultiplexerState{Routed: map[string]int{}}
	if prev, ok := st.(*MultiplexerState); ok && prev != nil {
		next.Next = prev.Next
		next.Unrouted = prev.Unrouted
		for k, v := range prev.Routed {
			next.Routed[k] = v
		}
	}
	if ev.Type == ir.EventSimulationStart {
		return Result{State: next}, nil
	}

	tok, err := requireToken(cfg, ev)
	if err != nil {
		return Result{}, err
	}
	mc := ir.MultiplexerConfig{Strategy: ir.StrategyBroadcast}
	if cfg.Multiplexer != nil {
		mc = *cfg.Multiplexer
		if mc.Strategy == "" {
			mc.Strategy = ir.StrategyBroadcast
		}
	}

	res := Result{State: next}
	outputs, err := chooseOutputs(env, cfg, mc, next, tok, ev.Timestamp, &res)
	if err != nil {
		return Result{}, err
	}

	if len(outputs) == 0 {
		next.Unrouted++
		res.Activities = append(res.Activities, ir.ActivityEntry{
			Tick:           ev.Timestamp,
			NodeID:         cfg.NodeID,
			NodeType:       cfg.Type,
			Action:         ir.ActionUnrouted,
			Value:          tok.Value.Clone(),
			CorrelationIDs: slices.Clone(tok.CorrelationIDs),
			Metadata:       ir.IRObject{ir.MetaTokenID: ir.IRString(tok.ID)},
		})
		return res, nil
	}

	action := ir.ActionRoute
	if len(outputs) > 1 {
		action = ir.ActionSplit
	}
	for _, out := range outputs {
		id, err := ir.MultiplexerTokenID(cfg.NodeID, ev.Timestamp, tok.ID, out, mc.Strategy, tok.CorrelationIDs)
		if err != nil {
			return Result{}, fmt.Errorf("multiplexer %s: %w", cfg.NodeID, err)
		}
		child := newToken(id, tok.Type, tok.Value.Clone(), ir.IRObject{ir.MetaOutput: ir.IRString(out)}, ev.Timestamp, cfg.NodeID)
		next.Routed[out]++
		res.Activities = append(res.Activities, ir.TokenActivity(cfg.Type, action, child, "route:"+mc.Strategy))
		res.Events = append(res.Events, emitEvent(cfg, child, ev.Timestamp, out))
	}
	return res, nil
}

func chooseOutputs(env *Env, cfg ir.NodeConfig, mc ir.MultiplexerConfig, st *MultiplexerState, tok ir.Token, tick int64, res *Result) ([]string, error) {
	names := make([]string, len(cfg.Outputs))
	for i, o := range cfg.Outputs {
		names[i] = o.Name
	}

	switch mc.Strategy {
	case ir.StrategyBroadcast:
		return names, nil
	case ir.StrategyRoundRobin:
		if len(names) == 0 {
			return nil, nil
		}
		out := names[st.Next%len(names)]
		st.Next = (st.Next + 1) % len(names)
		return []string{out}, nil
	case ir.StrategyCondition:
		scope := env.tokenScope(tok, tick)
		for _, r := range mc.Routes {
			ok, err := env.guard(cfg, tick, r.Condition, scope, res)
			if err != nil {
				return nil, err
			}
			if ok {
				return []string{r.Output}, nil
			}
		}
		if mc.DefaultOutput != "" {
			return []string{mc.DefaultOutput}, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("multiplexer %s: unknown strategy %q", cfg.NodeID, mc.Strategy)
}
