package store

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/queryir"
	"github.com/roach88/flowsim/internal/testutil"
)

func TestFilterActivities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	events := []ir.ExternalEvent{
		testutil.Seed("ord-1", "orders", 1, map[string]any{"action": "deliver"}),
		testutil.Seed("ord-2", "orders", 4, map[string]any{"action": "deliver"}),
	}
	res, err := engine.Simulate(ctx, testutil.DeliveryScenario(), events, engine.Limits{})
	require.NoError(t, err)
	_, err = s.RecordRun(ctx, Run{
		Execution: Execution{ID: "exec-1", Outcome: string(res.Outcome), Steps: res.Steps, Tick: res.Tick, Digest: res.Digest},
		Scenario:  testutil.DeliveryScenario(),
		Events:    events,
		Entries:   res.Entries,
	})
	require.NoError(t, err)

	// want filters the in-memory ledger the same way the query should.
	want := func(keep func(ir.ActivityEntry) bool) []int64 {
		var seqs []int64
		for _, e := range res.Entries {
			if keep(e) {
				seqs = append(seqs, e.Seq)
			}
		}
		return seqs
	}
	var corr string
	for _, e := range res.Entries {
		if e.Action == ir.ActionConsume && len(e.CorrelationIDs) > 0 {
			corr = e.CorrelationIDs[0]
			break
		}
	}
	require.NotEmpty(t, corr, "consumed tokens carry a correlation id")

	from, to := int64(2), int64(4)
	tests := []struct {
		name   string
		filter queryir.Filter
		limit  int
		want   []int64
	}{
		{"no filter", queryir.Filter{}, 0, want(func(ir.ActivityEntry) bool { return true })},
		{"node", queryir.Filter{NodeID: "delivery"}, 0, want(func(e ir.ActivityEntry) bool { return e.NodeID == "delivery" })},
		{"node type", queryir.Filter{NodeType: ir.NodeTypeSink}, 0, want(func(e ir.ActivityEntry) bool { return e.NodeType == ir.NodeTypeSink })},
		{"actions", queryir.Filter{Actions: []string{ir.ActionEmit, ir.ActionConsume}}, 0, want(func(e ir.ActivityEntry) bool {
			return e.Action == ir.ActionEmit || e.Action == ir.ActionConsume
		})},
		{"correlation", queryir.Filter{Correlation: corr}, 0, want(func(e ir.ActivityEntry) bool { return slices.Contains(e.CorrelationIDs, corr) })},
		{"tick range", queryir.Filter{FromTick: &from, ToTick: &to}, 0, want(func(e ir.ActivityEntry) bool { return e.Tick >= from && e.Tick <= to })},
		{"limit", queryir.Filter{}, 3, []int64{1, 2, 3}},
		{"no match", queryir.Filter{NodeID: "ghost"}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FilterActivities(ctx, "exec-1", tt.filter, tt.limit)
			require.NoError(t, err)
			var seqs []int64
			for _, e := range got {
				seqs = append(seqs, e.Seq)
			}
			assert.Equal(t, tt.want, seqs)
		})
	}
}

func TestQueryActivitiesRejectsInvalidQuery(t *testing.T) {
	s := createTestStore(t)
	_, err := s.QueryActivities(context.Background(), queryir.Select{})
	assert.ErrorIs(t, err, queryir.ErrInvalidQuery)
}
