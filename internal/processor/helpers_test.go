package processor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/ir"
)

func testEnv() *Env {
	return NewEnv(ir.IRObject{"threshold": ir.IRInt(1000)}, false)
}

func sourceToken(t *testing.T, node string, ts int64, value ir.IRObject, corr ...string) ir.Token {
	t.Helper()
	id, err := ir.SourceTokenID(node, ts, value, corr)
	require.NoError(t, err)
	return newToken(id, "data", value, nil, ts, node)
}

func arrival(target string, tok ir.Token, ts int64) ir.Event {
	return ir.Event{
		Type:         ir.EventTokenArrival,
		Timestamp:    ts,
		SourceNodeID: tok.SourceNodeID,
		TargetNodeID: target,
		Token:        &tok,
	}
}

func startEvent(target string) ir.Event {
	return ir.Event{Type: ir.EventSimulationStart, TargetNodeID: target}
}

// started runs SimulationStart and returns the initial state.
func started(t *testing.T, p Processor, env *Env, cfg ir.NodeConfig) State {
	t.Helper()
	res, err := p.Process(env, startEvent(cfg.NodeID), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, res.State)
	return res.State
}

func outputs(names ...string) []ir.OutputPort {
	out := make([]ir.OutputPort, len(names))
	for i, n := range names {
		out[i] = ir.OutputPort{Name: n, DestinationNodeID: "dst-" + n, DestinationInputName: "in"}
	}
	return out
}

func actions(entries []ir.ActivityEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func emittedTokens(res Result) []ir.Token {
	var out []ir.Token
	for _, ev := range res.Events {
		if ev.Type == ir.EventDataEmit && ev.Token != nil {
			out = append(out, *ev.Token)
		}
	}
	return out
}
