package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/ir"
)

func muxNode(mc *ir.MultiplexerConfig, outs ...string) ir.NodeConfig {
	return ir.NodeConfig{NodeID: "mux", Type: ir.NodeTypeMultiplexer, Multiplexer: mc, Outputs: outputs(outs...)}
}

func TestMultiplexerBroadcast(t *testing.T) {
	p, env := &Multiplexer{}, testEnv()
	cfg := muxNode(nil, "a", "b", "c")
	tok := sourceToken(t, "src", 0, ir.IRObject{"n": ir.IRInt(1)}, "c-1")

	res, err := p.Process(env, arrival("mux", tok, 2), cfg, started(t, p, env, cfg))
	require.NoError(t, err)

	require.Len(t, res.Events, 3)
	ids := map[string]bool{}
	for i, ev := range res.Events {
		out := []string{"a", "b", "c"}[i]
		assert.Equal(t, ir.IRString(out), ev.Metadata[ir.MetaOutput])
		assert.Equal(t, []string{tok.ID}, ev.Token.Lineage)
		assert.Equal(t, []string{"c-1"}, ev.Token.CorrelationIDs)
		ids[ev.Token.ID] = true
	}
	assert.Len(t, ids, 3, "one distinct child per output")
	assert.Equal(t, []string{ir.ActionSplit, ir.ActionSplit, ir.ActionSplit}, actions(res.Activities))
}

func TestMultiplexerRoundRobin(t *testing.T) {
	p, env := &Multiplexer{}, testEnv()
	cfg := muxNode(&ir.MultiplexerConfig{Strategy: ir.StrategyRoundRobin}, "left", "right")
	st := started(t, p, env, cfg)

	var got []string
	for _, tok := range numbered(t, 1, 2, 3, 4, 5) {
		res, err := p.Process(env, arrival("mux", tok, 0), cfg, st)
		require.NoError(t, err)
		st = res.State
		require.Len(t, res.Events, 1)
		got = append(got, res.Events[0].Metadata.String(ir.MetaOutput))
		assert.Equal(t, []string{ir.ActionRoute}, actions(res.Activities))
	}
	assert.Equal(t, []string{"left", "right", "left", "right", "left"}, got)
	assert.Equal(t, map[string]int{"left": 3, "right": 2}, st.(*MultiplexerState).Routed)
}

func TestMultiplexerCondition(t *testing.T) {
	mc := &ir.MultiplexerConfig{
		Strategy: ir.StrategyCondition,
		Routes: []ir.RouteConfig{
			{Output: "high", Condition: "amount > threshold"},
			{Output: "low", Condition: "amount > 10"},
		},
		DefaultOutput: "rest",
	}
	tests := []struct {
		amount int64
		want   string
	}{
		{5000, "high"},
		{50, "low"},
		{1, "rest"},
	}
	p, env := &Multiplexer{}, testEnv()
	cfg := muxNode(mc, "high", "low", "rest")
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			tok := sourceToken(t, "src", 0, ir.IRObject{"amount": ir.IRInt(tt.amount)})
			res, err := p.Process(env, arrival("mux", tok, 0), cfg, nil)
			require.NoError(t, err)
			require.Len(t, res.Events, 1)
			assert.Equal(t, tt.want, res.Events[0].Metadata.String(ir.MetaOutput))
		})
	}
}

func TestMultiplexerUnrouted(t *testing.T) {
	p, env := &Multiplexer{}, testEnv()
	cfg := muxNode(&ir.MultiplexerConfig{
		Strategy: ir.StrategyCondition,
		Routes:   []ir.RouteConfig{{Output: "a", Condition: "value.kind == 'x'"}},
	}, "a")
	tok := sourceToken(t, "src", 0, ir.IRObject{"kind": ir.IRString("y")})

	res, err := p.Process(env, arrival("mux", tok, 0), cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, []string{ir.ActionUnrouted}, actions(res.Activities))
	assert.Equal(t, 1, res.State.(*MultiplexerState).Unrouted)
}

func TestMultiplexerGuardErrorFallsThrough(t *testing.T) {
	p, env := &Multiplexer{}, testEnv()
	cfg := muxNode(&ir.MultiplexerConfig{
		Strategy: ir.StrategyCondition,
		Routes: []ir.RouteConfig{
			{Output: "a", Condition: "amount > 'text'"},
			{Output: "b", Condition: "true"},
		},
	}, "a", "b")
	tok := sourceToken(t, "src", 0, ir.IRObject{"amount": ir.IRInt(3)})

	res, err := p.Process(env, arrival("mux", tok, 0), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ir.ActionGuardError, ir.ActionRoute}, actions(res.Activities))
	assert.Equal(t, "b", res.Events[0].Metadata.String(ir.MetaOutput))
}
