package processor

import (
	"fmt"
	"slices"

	"github.com/roach88/flowsim/internal/ir"
)

const defaultAggregateTokenType = "aggregate"

// Queue buffers arriving tokens and releases them as one aggregated token
// when its trigger fires. It also serves the Aggregator node type.
//
// The count trigger schedules a same-tick BufferUpdated self-event once the
// buffer reaches Size, so every arrival already queued for that tick is
// buffered before the flush runs. The time trigger flushes the whole
// buffer Window ticks after the first token of a batch arrived.
type Queue struct{}

// QueueState is the buffer plus trigger bookkeeping.
type QueueState struct {
	Buffer       []ir.Token
	FlushPending bool
	WindowNonce  int64
	WindowOpen   bool
	Flushed      int
	Dropped      int
}

// Snapshot implements State.
func (s *QueueState) Snapshot() ir.IRObject {
	ids := make([]string, len(s.Buffer))
	for i, t := range s.Buffer {
		ids[i] = t.ID
	}
	return ir.IRObject{
		"buffered": ir.IRInt(len(s.Buffer)),
		"tokenIds": ir.StringArray(ids),
		"flushed":  ir.IRInt(s.Flushed),
		"dropped":  ir.IRInt(s.Dropped),
	}
}

func (s *QueueState) clone() *QueueState {
	c := *s
	c.Buffer = slices.Clone(s.Buffer)
	return &c
}

func (*Queue) NodeType() ir.NodeType { return ir.NodeTypeQueue }

func (*Queue) SupportedEvents() []ir.EventType {
	return []ir.EventType{ir.EventSimulationStart, ir.EventTokenArrival, ir.EventBufferUpdated, ir.EventTimeTimeout}
}

func queueConfig(cfg ir.NodeConfig) ir.QueueConfig {
	qc := ir.QueueConfig{}
	if cfg.Queue != nil {
		qc = *cfg.Queue
	}
	if qc.Trigger.Type == "" {
		qc.Trigger.Type = ir.TriggerCount
	}
	if qc.Trigger.Size <= 0 {
		qc.Trigger.Size = 1
	}
	if qc.Trigger.Window <= 0 {
		qc.Trigger.Window = 1
	}
	if qc.Method == "" {
		qc.Method = ir.AggregateCollect
	}
	if qc.TokenType == "" {
		qc.TokenType = defaultAggregateTokenType
	}
	return qc
}

func (*Queue) Process(env *Env, ev ir.Event, cfg ir.NodeConfig, st State) (Result, error) {
	next := &QueueState{}
	if prev, ok := st.(*QueueState); ok && prev != nil {
		next = prev.clone()
	}
	qc := queueConfig(cfg)

	switch ev.Type {
	case ir.EventSimulationStart:
		return Result{State: next}, nil

	case ir.EventTokenArrival:
		tok, err := requireToken(cfg, ev)
		if err != nil {
			return Result{}, err
		}
		return arrive(cfg, qc, next, tok, ev.Timestamp), nil

	case ir.EventBufferUpdated:
		next.FlushPending = false
		res := Result{State: next}
		for len(next.Buffer) >= qc.Trigger.Size {
			batch := next.Buffer[:qc.Trigger.Size]
			next.Buffer = slices.Clone(next.Buffer[qc.Trigger.Size:])
			if err := flush(cfg, qc, next, batch, ev.Timestamp, &res); err != nil {
				return Result{}, err
			}
		}
		return res, nil

	case ir.EventTimeTimeout:
		nonce, _ := ev.Data.Int("nonce")
		if !next.WindowOpen || nonce != next.WindowNonce {
			return Result{State: next}, nil
		}
		next.WindowOpen = false
		res := Result{State: next}
		if len(next.Buffer) == 0 {
			return res, nil
		}
		batch := next.Buffer
		next.Buffer = nil
		if err := flush(cfg, qc, next, batch, ev.Timestamp, &res); err != nil {
			return Result{}, err
		}
		return res, nil
	}
	return Result{}, &UnsupportedEventError{NodeType: cfg.Type, NodeID: cfg.NodeID, EventType: ev.Type}
}

func arrive(cfg ir.NodeConfig, qc ir.QueueConfig, next *QueueState, tok ir.Token, tick int64) Result {
	res := Result{State: next}
	entry := ir.ActivityEntry{
		Tick:           tick,
		NodeID:         cfg.NodeID,
		NodeType:       cfg.Type,
		Value:          tok.Value.Clone(),
		CorrelationIDs: slices.Clone(tok.CorrelationIDs),
		Metadata: ir.IRObject{
			ir.MetaTokenID: ir.IRString(tok.ID),
			"bufferSize":   ir.IRInt(len(next.Buffer)),
		},
	}

	if qc.Capacity > 0 && len(next.Buffer) >= qc.Capacity {
		next.Dropped++
		entry.Action = ir.ActionDropped
		entry.Metadata["capacity"] = ir.IRInt(qc.Capacity)
		res.Activities = append(res.Activities, entry)
		return res
	}

	next.Buffer = append(next.Buffer, tok)
	entry.Action = ir.ActionBuffered
	entry.Metadata["bufferSize"] = ir.IRInt(len(next.Buffer))
	res.Activities = append(res.Activities, entry)

	switch qc.Trigger.Type {
	case ir.TriggerTime:
		if !next.WindowOpen {
			next.WindowOpen = true
			next.WindowNonce++
			res.Events = append(res.Events, selfEvent(cfg, ir.EventTimeTimeout, tick+qc.Trigger.Window,
				ir.IRObject{"nonce": ir.IRInt(next.WindowNonce)}, nil))
		}
	default:
		if len(next.Buffer) >= qc.Trigger.Size && !next.FlushPending {
			next.FlushPending = true
			res.Events = append(res.Events, selfEvent(cfg, ir.EventBufferUpdated, tick, nil, nil))
		}
	}
	return res
}

func flush(cfg ir.NodeConfig, qc ir.QueueConfig, next *QueueState, batch []ir.Token, tick int64, res *Result) error {
	result, err := aggregate(qc.Method, qc.Field, batch)
	if err != nil {
		return fmt.Errorf("queue %s: %w", cfg.NodeID, err)
	}

	parents := make([]string, len(batch))
	for i, t := range batch {
		parents[i] = t.ID
	}
	corr := ir.MergeCorrelationIDs(batch...)

	id, err := ir.AggregatorTokenID(cfg.NodeID, cfg.Type, tick, parents, qc.Method, result, qc.TokenType, corr)
	if err != nil {
		return fmt.Errorf("queue %s: %w", cfg.NodeID, err)
	}

	value := ir.IRObject{
		"method": ir.IRString(qc.Method),
		"count":  ir.IRInt(len(batch)),
		"result": result,
	}
	tok := newToken(id, qc.TokenType, value, nil, tick, cfg.NodeID)
	next.Flushed++

	action := ir.ActionCombine
	if qc.Method != ir.AggregateCollect {
		action = ir.ActionMerge
	}
	res.Activities = append(res.Activities, ir.TokenActivity(cfg.Type, action, tok, "aggregate:"+qc.Method))
	res.Events = append(res.Events, emitEvent(cfg, tok, tick, ""))
	return nil
}

// aggregate reduces a batch. Numeric methods read field (default "value")
// from each token value and skip tokens where it is not an integer.
// average uses integer division.
func aggregate(method, field string, batch []ir.Token) (ir.IRValue, error) {
	if field == "" {
		field = "value"
	}
	pick := func(t ir.Token) ir.IRValue {
		if v, ok := t.Value[field]; ok {
			return ir.CloneValue(v)
		}
		return t.Value.Clone()
	}

	switch method {
	case ir.AggregateCollect:
		items := make(ir.IRArray, len(batch))
		for i, t := range batch {
			items[i] = t.Value.Clone()
		}
		return items, nil
	case ir.AggregateCount:
		return ir.IRInt(len(batch)), nil
	case ir.AggregateFirst:
		return pick(batch[0]), nil
	case ir.AggregateLast:
		return pick(batch[len(batch)-1]), nil
	}

	var nums []int64
	for _, t := range batch {
		if n, ok := t.Value.Int(field); ok {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return ir.IRNull{}, nil
	}

	switch method {
	case ir.AggregateSum:
		var sum int64
		for _, n := range nums {
			sum += n
		}
		return ir.IRInt(sum), nil
	case ir.AggregateAverage:
		var sum int64
		for _, n := range nums {
			sum += n
		}
		return ir.IRInt(sum / int64(len(nums))), nil
	case ir.AggregateMin:
		return ir.IRInt(slices.Min(nums)), nil
	case ir.AggregateMax:
		return ir.IRInt(slices.Max(nums)), nil
	}
	return nil, fmt.Errorf("unknown aggregation method %q", method)
}
