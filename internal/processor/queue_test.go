package processor

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/ir"
)

func queueNode(qc ir.QueueConfig) ir.NodeConfig {
	return ir.NodeConfig{NodeID: "q", Type: ir.NodeTypeQueue, Queue: &qc, Outputs: outputs("out")}
}

// feed delivers tokens to the queue and then drains same-node self events
// in timestamp order, the way the scheduler would.
func feed(t *testing.T, p Processor, env *Env, cfg ir.NodeConfig, st State, toks []ir.Token, tick int64) (State, []ir.Token, []ir.ActivityEntry) {
	t.Helper()
	var (
		pending  []ir.Event
		emitted  []ir.Token
		activity []ir.ActivityEntry
	)
	collect := func(res Result) {
		st = res.State
		activity = append(activity, res.Activities...)
		for _, ev := range res.Events {
			if ev.TargetNodeID == cfg.NodeID {
				pending = append(pending, ev)
			} else if ev.Token != nil {
				emitted = append(emitted, *ev.Token)
			}
		}
	}
	for _, tok := range toks {
		res, err := p.Process(env, arrival(cfg.NodeID, tok, tick), cfg, st)
		require.NoError(t, err)
		collect(res)
	}
	for len(pending) > 0 {
		slices.SortStableFunc(pending, func(a, b ir.Event) int { return int(a.Timestamp - b.Timestamp) })
		ev := pending[0]
		pending = pending[1:]
		res, err := p.Process(env, ev, cfg, st)
		require.NoError(t, err)
		collect(res)
	}
	return st, emitted, activity
}

func numbered(t *testing.T, ns ...int64) []ir.Token {
	var out []ir.Token
	for _, n := range ns {
		out = append(out, sourceToken(t, "src", n, ir.IRObject{"value": ir.IRInt(n)}, "c"))
	}
	return out
}

func TestQueueCountTriggerFlushesExactBatches(t *testing.T) {
	p, env := &Queue{}, testEnv()
	cfg := queueNode(ir.QueueConfig{Trigger: ir.TriggerConfig{Type: ir.TriggerCount, Size: 2}, Method: ir.AggregateSum})
	st := started(t, p, env, cfg)

	st, emitted, _ := feed(t, p, env, cfg, st, numbered(t, 1, 2, 3, 4, 5), 10)

	require.Len(t, emitted, 2)
	assert.Equal(t, ir.IRInt(3), emitted[0].Value["result"])
	assert.Equal(t, ir.IRInt(7), emitted[1].Value["result"])
	for _, tok := range emitted {
		assert.Equal(t, ir.IRInt(2), tok.Value["count"])
		assert.Len(t, tok.Lineage, 2)
		assert.Equal(t, 1, tok.Generation())
		assert.Equal(t, []string{"c"}, tok.CorrelationIDs)
	}

	qs := st.(*QueueState)
	assert.Len(t, qs.Buffer, 1, "the fifth token waits for a partner")
	assert.Equal(t, 2, qs.Flushed)
	assert.False(t, qs.FlushPending)
}

func TestQueueArrivalOrderDoesNotChangeIdentity(t *testing.T) {
	p, env := &Queue{}, testEnv()
	cfg := queueNode(ir.QueueConfig{Trigger: ir.TriggerConfig{Size: 3}, Method: ir.AggregateSum})
	toks := numbered(t, 4, 5, 6)

	_, a, _ := feed(t, p, env, cfg, started(t, p, env, cfg), toks, 9)
	_, b, _ := feed(t, p, env, cfg, started(t, p, env, cfg), []ir.Token{toks[2], toks[0], toks[1]}, 9)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
	assert.Equal(t, a[0].Lineage, b[0].Lineage)
}

func TestQueueTimeTriggerFlushesWholeBuffer(t *testing.T) {
	p, env := &Queue{}, testEnv()
	cfg := queueNode(ir.QueueConfig{Trigger: ir.TriggerConfig{Type: ir.TriggerTime, Window: 5}})
	st := started(t, p, env, cfg)

	var timeouts []ir.Event
	for i, tok := range numbered(t, 1, 2, 3) {
		res, err := p.Process(env, arrival("q", tok, int64(i)), cfg, st)
		require.NoError(t, err)
		st = res.State
		timeouts = append(timeouts, res.Events...)
	}
	require.Len(t, timeouts, 1, "one window per batch")
	assert.Equal(t, int64(5), timeouts[0].Timestamp)

	res, err := p.Process(env, timeouts[0], cfg, st)
	require.NoError(t, err)
	toks := emittedTokens(res)
	require.Len(t, toks, 1)
	assert.Equal(t, ir.IRInt(3), toks[0].Value["count"])
	assert.Equal(t, ir.IRString(ir.AggregateCollect), toks[0].Value["method"])
	assert.Equal(t, []string{ir.ActionCombine}, actions(res.Activities))

	again, err := p.Process(env, timeouts[0], cfg, res.State)
	require.NoError(t, err)
	assert.Empty(t, again.Events, "a closed window ignores its timeout")
}

func TestQueueCapacityDrops(t *testing.T) {
	p, env := &Queue{}, testEnv()
	cfg := queueNode(ir.QueueConfig{Capacity: 2, Trigger: ir.TriggerConfig{Type: ir.TriggerTime, Window: 100}})
	st := started(t, p, env, cfg)

	var got []string
	for _, tok := range numbered(t, 1, 2, 3) {
		res, err := p.Process(env, arrival("q", tok, 0), cfg, st)
		require.NoError(t, err)
		st = res.State
		got = append(got, actions(res.Activities)...)
	}
	assert.Equal(t, []string{ir.ActionBuffered, ir.ActionBuffered, ir.ActionDropped}, got)
	assert.Equal(t, 1, st.(*QueueState).Dropped)
}

func TestQueueAggregate(t *testing.T) {
	batch := []ir.Token{
		{Value: ir.IRObject{"value": ir.IRInt(4), "label": ir.IRString("a")}},
		{Value: ir.IRObject{"value": ir.IRString("n/a")}},
		{Value: ir.IRObject{"value": ir.IRInt(9)}},
		{Value: ir.IRObject{"value": ir.IRInt(-1)}},
	}
	tests := []struct {
		method string
		want   ir.IRValue
	}{
		{ir.AggregateCount, ir.IRInt(4)},
		{ir.AggregateSum, ir.IRInt(12)},
		{ir.AggregateAverage, ir.IRInt(4)},
		{ir.AggregateMin, ir.IRInt(-1)},
		{ir.AggregateMax, ir.IRInt(9)},
		{ir.AggregateFirst, ir.IRInt(4)},
		{ir.AggregateLast, ir.IRInt(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, err := aggregate(tt.method, "", batch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("collect", func(t *testing.T) {
		got, err := aggregate(ir.AggregateCollect, "", batch[:2])
		require.NoError(t, err)
		assert.Equal(t, ir.IRArray{batch[0].Value, batch[1].Value}, got)
	})
	t.Run("no integers", func(t *testing.T) {
		got, err := aggregate(ir.AggregateSum, "missing", batch)
		require.NoError(t, err)
		assert.Equal(t, ir.IRNull{}, got)
	})
	t.Run("unknown", func(t *testing.T) {
		_, err := aggregate("median", "", batch)
		assert.Error(t, err)
	})
}

func TestAggregatorSharesQueueBehaviour(t *testing.T) {
	reg := NewDefaultRegistry()
	p, err := reg.Lookup(ir.NodeTypeAggregator)
	require.NoError(t, err)

	env := testEnv()
	cfg := ir.NodeConfig{
		NodeID:  "agg",
		Type:    ir.NodeTypeAggregator,
		Queue:   &ir.QueueConfig{Trigger: ir.TriggerConfig{Size: 2}, Method: ir.AggregateMax},
		Outputs: outputs("out"),
	}
	_, emitted, activity := feed(t, p, env, cfg, started(t, p, env, cfg), numbered(t, 3, 8), 1)
	require.Len(t, emitted, 1)
	assert.Equal(t, ir.IRInt(8), emitted[0].Value["result"])

	last := activity[len(activity)-1]
	assert.Equal(t, ir.ActionMerge, last.Action)
	assert.Equal(t, ir.NodeTypeAggregator, last.NodeType)
	assert.Len(t, last.ParentIDs(), 2)
}
