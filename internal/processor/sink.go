package processor

import (
	"slices"

	"github.com/roach88/flowsim/internal/ir"
)

const defaultSinkRetain = 10

// Sink terminates a chain. It consumes tokens and keeps counts.
type Sink struct{}

// SinkState counts consumed tokens and remembers the most recent ids.
type SinkState struct {
	Consumed int
	ByType   map[string]int
	Recent   []string
}

// Snapshot implements State.
func (s *SinkState) Snapshot() ir.IRObject {
	byType := ir.IRObject{}
	for k, v := range s.ByType {
		byType[k] = ir.IRInt(v)
	}
	return ir.IRObject{
		"consumed": ir.IRInt(s.Consumed),
		"byType":   byType,
		"recent":   ir.StringArray(s.Recent),
	}
}

func (*Sink) NodeType() ir.NodeType { return ir.NodeTypeSink }

func (*Sink) SupportedEvents() []ir.EventType {
	return []ir.EventType{ir.EventSimulationStart, ir.EventTokenArrival}
}

func (*Sink) Process(env *Env, ev ir.Event, cfg ir.NodeConfig, st State) (Result, error) {
	next := SinkState{ByType: map[string]int{}}
	if prev, ok := st.(*SinkState); ok && prev != nil {
		next.Consumed = prev.Consumed
		for k, v := range prev.ByType {
			next.ByType[k] = v
		}
		next.Recent = slices.Clone(prev.Recent)
	}

	if ev.Type == ir.EventSimulationStart {
		return Result{State: &next}, nil
	}

	tok, err := requireToken(cfg, ev)
	if err != nil {
		return Result{}, err
	}

	retain := defaultSinkRetain
	if cfg.Sink != nil && cfg.Sink.Retain > 0 {
		retain = cfg.Sink.Retain
	}
	next.Consumed++
	next.ByType[tok.Type]++
	next.Recent = append(next.Recent, tok.ID)
	if len(next.Recent) > retain {
		next.Recent = next.Recent[len(next.Recent)-retain:]
	}

	return Result{
		State: &next,
		Activities: []ir.ActivityEntry{{
			Tick:           ev.Timestamp,
			NodeID:         cfg.NodeID,
			NodeType:       cfg.Type,
			Action:         ir.ActionConsume,
			Value:          tok.Value.Clone(),
			CorrelationIDs: slices.Clone(tok.CorrelationIDs),
			Metadata: ir.IRObject{
				ir.MetaTokenID:   ir.IRString(tok.ID),
				ir.MetaTokenType: ir.IRString(tok.Type),
				ir.MetaInput:     ir.IRString(ev.Metadata.String(ir.MetaInput)),
			},
		}},
	}, nil
}
