package processor

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/flowsim/internal/ir"
)

const defaultProcessTokenType = "processed"

// Process models a worker with bounded concurrency. Each token waits for a
// free slot, takes Duration (+ seeded jitter) ticks, then leaves with its
// value transformed.
type Process struct{}

// ProcessState tracks in-flight work and the wait list.
type ProcessState struct {
	Active    int
	Waiting   []ir.Token
	Completed int
}

// Snapshot implements State.
func (s *ProcessState) Snapshot() ir.IRObject {
	ids := make([]string, len(s.Waiting))
	for i, t := range s.Waiting {
		ids[i] = t.ID
	}
	return ir.IRObject{
		"active":    ir.IRInt(s.Active),
		"waiting":   ir.StringArray(ids),
		"completed": ir.IRInt(s.Completed),
	}
}

func (*Process) NodeType() ir.NodeType { return ir.NodeTypeProcess }

func (*Process) SupportedEvents() []ir.EventType {
	return []ir.EventType{ir.EventSimulationStart, ir.EventTokenArrival, ir.EventProcessStart, ir.EventProcessComplete}
}

func (*Process) Process(env *Env, ev ir.Event, cfg ir.NodeConfig, st State) (Result, error) {
	next := &ProcessState{}
	if prev, ok := st.(*ProcessState); ok && prev != nil {
		c := *prev
		c.Waiting = slices.Clone(prev.Waiting)
		next = &c
	}
	pc := ir.ProcessConfig{}
	if cfg.Process != nil {
		pc = *cfg.Process
	}
	capacity := max(pc.Capacity, 1)

	if ev.Type == ir.EventSimulationStart {
		return Result{State: next}, nil
	}

	tok, err := requireToken(cfg, ev)
	if err != nil {
		return Result{}, err
	}
	res := Result{State: next}

	switch ev.Type {
	case ir.EventTokenArrival:
		if next.Active < capacity {
			next.Active++
			res.Events = append(res.Events, selfEvent(cfg, ir.EventProcessStart, ev.Timestamp, nil, &tok))
			return res, nil
		}
		next.Waiting = append(next.Waiting, tok)
		res.Activities = append(res.Activities, processActivity(cfg, ev.Timestamp, ir.ActionProcessingQueued, tok,
			ir.IRObject{"waiting": ir.IRInt(len(next.Waiting))}))
		return res, nil

	case ir.EventProcessStart:
		d := pc.Duration + jitter(cfg.NodeID, tok.ID, pc.Jitter)
		res.Activities = append(res.Activities, processActivity(cfg, ev.Timestamp, ir.ActionProcessingStarted, tok,
			ir.IRObject{"duration": ir.IRInt(d)}))
		res.Events = append(res.Events, selfEvent(cfg, ir.EventProcessComplete, ev.Timestamp+d,
			ir.IRObject{"startedAt": ir.IRInt(ev.Timestamp)}, &tok))
		return res, nil

	case ir.EventProcessComplete:
		next.Active = max(next.Active-1, 0)
		next.Completed++

		if err := complete(env, cfg, pc, tok, ev, &res); err != nil {
			return Result{}, err
		}

		if len(next.Waiting) > 0 {
			queued := next.Waiting[0]
			next.Waiting = next.Waiting[1:]
			next.Active++
			res.Events = append(res.Events, selfEvent(cfg, ir.EventProcessStart, ev.Timestamp, nil, &queued))
		}
		return res, nil
	}
	return Result{}, &UnsupportedEventError{NodeType: cfg.Type, NodeID: cfg.NodeID, EventType: ev.Type}
}

func complete(env *Env, cfg ir.NodeConfig, pc ir.ProcessConfig, tok ir.Token, ev ir.Event, res *Result) error {
	scope := env.tokenScope(tok, ev.Timestamp)

	fields := make([]string, 0, len(pc.Transform))
	for f := range pc.Transform {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	patch := ir.IRObject{}
	applied := ir.IRObject{}
	for _, f := range fields {
		src := pc.Transform[f]
		v, ok, err := env.eval(cfg, ev.Timestamp, src, scope, res)
		if err != nil {
			return err
		}
		if ok {
			patch[f] = v
			applied[f] = ir.IRString(src)
		}
	}

	startedAt, _ := ev.Data.Int("startedAt")
	transformation := ir.IRObject{
		"fields":   applied,
		"duration": ir.IRInt(ev.Timestamp - startedAt),
	}
	id, err := ir.ProcessTokenID(cfg.NodeID, ev.Timestamp, tok.ID, transformation, tok.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("process %s: %w", cfg.NodeID, err)
	}

	typ := pc.TokenType
	if typ == "" {
		typ = defaultProcessTokenType
	}
	out := newToken(id, typ, tok.Value.Merge(patch), nil, ev.Timestamp, cfg.NodeID)

	desc := "process"
	if len(applied) > 0 {
		desc = "process:" + strings.Join(applied.SortedKeys(), ",")
	}
	res.Activities = append(res.Activities, ir.TokenActivity(cfg.Type, ir.ActionTransform, out, desc))
	res.Events = append(res.Events, emitEvent(cfg, out, ev.Timestamp, ""))
	return nil
}

// jitter draws a value in [0, spread] from a PCG stream seeded by the node
// and token ids, so the same token always gets the same delay.
func jitter(nodeID, tokenID string, spread int64) int64 {
	if spread <= 0 {
		return 0
	}
	r := rand.New(rand.NewPCG(xxhash.Sum64String(nodeID), xxhash.Sum64String(tokenID)))
	return r.Int64N(spread + 1)
}

func processActivity(cfg ir.NodeConfig, tick int64, action string, tok ir.Token, extra ir.IRObject) ir.ActivityEntry {
	meta := ir.IRObject{ir.MetaTokenID: ir.IRString(tok.ID)}
	for k, v := range extra {
		meta[k] = v
	}
	return ir.ActivityEntry{
		Tick:           tick,
		NodeID:         cfg.NodeID,
		NodeType:       cfg.Type,
		Action:         action,
		Value:          tok.Value.Clone(),
		CorrelationIDs: slices.Clone(tok.CorrelationIDs),
		Metadata:       meta,
	}
}
