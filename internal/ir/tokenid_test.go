package ir

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenIDFormat = regexp.MustCompile(`^[A-Za-z0-9_-]+_g\d+_[0-9a-f]{16}$`)

func TestGenerateTokenIDFormat(t *testing.T) {
	id, err := SourceTokenID("source-1", 0, IRObject{"doc": IRString("a.pdf")}, nil)
	require.NoError(t, err)

	assert.Regexp(t, tokenIDFormat, id.ID)
	assert.Equal(t, 0, id.Generation)
	assert.Empty(t, id.ParentIDs)
	assert.Len(t, id.TransformationHash, 16)
}

func TestGenerateTokenIDDeterministic(t *testing.T) {
	data := IRObject{"k": IRString("v")}
	a, err := GenerateTokenID("n1", NodeTypeProcess, 5, []string{"p_g0_0000000000000001"}, data, nil)
	require.NoError(t, err)
	b, err := GenerateTokenID("n1", NodeTypeProcess, 5, []string{"p_g0_0000000000000001"}, data, nil)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerateTokenIDParentOrderIndependent(t *testing.T) {
	parents := []string{
		"src_g0_aaaaaaaaaaaaaaaa",
		"src_g2_bbbbbbbbbbbbbbbb",
		"src_g1_cccccccccccccccc",
	}
	reversed := []string{parents[2], parents[1], parents[0]}

	a, err := AggregatorTokenID("agg", NodeTypeQueue, 10, parents, AggregateSum, IRInt(6), "total", nil)
	require.NoError(t, err)
	b, err := AggregatorTokenID("agg", NodeTypeQueue, 10, reversed, AggregateSum, IRInt(6), "total", nil)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, []string{parents[0], parents[2], parents[1]}, a.ParentIDs)
	assert.Equal(t, 3, a.Generation, "one more than the deepest parent")
}

func TestGenerateTokenIDDataKeyOrderIndependent(t *testing.T) {
	a, err := ProcessTokenID("proc", 3, "p_g0_0123456789abcdef", IRObject{"x": IRInt(1), "y": IRInt(2)}, nil)
	require.NoError(t, err)
	b, err := ProcessTokenID("proc", 3, "p_g0_0123456789abcdef", IRObject{"y": IRInt(2), "x": IRInt(1)}, nil)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, a.Generation)
}

func TestGenerateTokenIDInputsChangeID(t *testing.T) {
	base, err := GenerateTokenID("n", NodeTypeProcess, 1, nil, IRObject{"v": IRInt(1)}, nil)
	require.NoError(t, err)

	variants := map[string]func() (DeterministicTokenID, error){
		"node": func() (DeterministicTokenID, error) {
			return GenerateTokenID("m", NodeTypeProcess, 1, nil, IRObject{"v": IRInt(1)}, nil)
		},
		"type": func() (DeterministicTokenID, error) {
			return GenerateTokenID("n", NodeTypeSink, 1, nil, IRObject{"v": IRInt(1)}, nil)
		},
		"timestamp": func() (DeterministicTokenID, error) {
			return GenerateTokenID("n", NodeTypeProcess, 2, nil, IRObject{"v": IRInt(1)}, nil)
		},
		"data": func() (DeterministicTokenID, error) {
			return GenerateTokenID("n", NodeTypeProcess, 1, nil, IRObject{"v": IRInt(2)}, nil)
		},
	}
	for name, gen := range variants {
		t.Run(name, func(t *testing.T) {
			other, err := gen()
			require.NoError(t, err)
			assert.NotEqual(t, base.ID, other.ID)
		})
	}
}

func TestGenerateTokenIDCorrelationNotHashed(t *testing.T) {
	a, err := SourceTokenID("s", 0, IRObject{"n": IRInt(1)}, []string{"order-2", "order-1", "order-2"})
	require.NoError(t, err)
	b, err := SourceTokenID("s", 0, IRObject{"n": IRInt(1)}, nil)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, []string{"order-1", "order-2"}, a.CorrelationIDs)
}

func TestMultiplexerTokenIDBroadcastDistinct(t *testing.T) {
	parent := "src_g0_0123456789abcdef"
	seen := map[string]bool{}
	for _, out := range []string{"a", "b", "c"} {
		id, err := MultiplexerTokenID("mux", 4, parent, out, StrategyBroadcast, nil)
		require.NoError(t, err)
		assert.False(t, seen[id.ID], "duplicate id for output %s", out)
		seen[id.ID] = true
		assert.Equal(t, 1, id.Generation)
	}
}

func TestFSMTokenIDIncludesTransition(t *testing.T) {
	parent := "src_g0_0123456789abcdef"
	a, err := FSMTokenID("fsm", 2, parent, TransitionDescription{From: "idle", To: "busy", Event: "start"}, nil)
	require.NoError(t, err)
	b, err := FSMTokenID("fsm", 2, parent, TransitionDescription{From: "idle", To: "done", Event: "start"}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{"node_g3_0123456789abcdef", 3},
		{"my_g1_node_g12_0123456789abcdef", 12},
		{"legacy_g4_token", 4},
		{"a_g1_b_g2_c", 2},
		{"plain-id", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGeneration(tt.id))
		})
	}
}
