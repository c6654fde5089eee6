package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/testutil"
)

func deliverySession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New("s-1", testutil.DeliveryScenario(),
		[]ir.ExternalEvent{testutil.Seed("ord-1", "orders", 1, map[string]any{"action": "deliver"})}, opts...)
	require.NoError(t, err)
	return s
}

func actions(entries []ir.ActivityEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestRunChunkSnapshots(t *testing.T) {
	s := deliverySession(t)
	ctx := context.Background()

	var snaps []Snapshot
	for !s.Done() {
		snap, err := s.RunChunk(ctx, engine.Limits{MaxSteps: 3})
		require.NoError(t, err)
		snaps = append(snaps, snap)
		require.Less(t, len(snaps), 10)
	}

	require.Len(t, snaps, 3)
	assert.Equal(t, []int64{3, 6, 8}, []int64{snaps[0].Step, snaps[1].Step, snaps[2].Step})
	assert.Equal(t, []engine.Outcome{engine.OutcomeTimeout, engine.OutcomeTimeout, engine.OutcomeCompleted},
		[]engine.Outcome{snaps[0].Outcome, snaps[1].Outcome, snaps[2].Outcome})
	assert.Equal(t, []int{1, 2, 3}, []int{snaps[0].Number, snaps[1].Number, snaps[2].Number})

	assert.Equal(t, []string{ir.ActionSimulationStarted}, actions(snaps[0].RecentActivity))
	assert.Equal(t, []string{ir.ActionConsume}, actions(snaps[2].RecentActivity))
	assert.Equal(t, int64(len(s.Entries())), snaps[2].LastSeq)
	assert.Equal(t, int64(1), snaps[2].Timestamp)
	assert.Empty(t, snaps[2].QueueSizes)
	assert.Equal(t, ir.IRInt(1), snaps[2].NodeStates["done"]["consumed"])

	again, err := s.RunChunk(ctx, engine.Limits{MaxSteps: 3})
	require.NoError(t, err)
	assert.Equal(t, snaps[2], again, "a finished session does not run again")
	assert.Equal(t, 3, s.Len())
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := deliverySession(t)
	_, err := s.RunToCompletion(context.Background(), 3, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		get  func() (Snapshot, error)
	}{
		{"at", func() (Snapshot, error) { return s.At(3) }},
		{"latest", s.Latest},
		{"range", func() (Snapshot, error) {
			snaps, err := s.Range(3, 3)
			if err != nil {
				return Snapshot{}, err
			}
			return snaps[0], nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := s.At(3)
			require.NoError(t, err)

			got, err := tt.get()
			require.NoError(t, err)
			got.NodeStates["done"]["consumed"] = ir.IRInt(99)
			delete(got.NodeStates, "orders")
			if got.QueueSizes == nil {
				got.QueueSizes = map[string]int{}
			}
			got.QueueSizes["done"] = 7
			require.NotEmpty(t, got.RecentActivity)
			got.RecentActivity[0].Action = "tampered"

			after, err := s.At(3)
			require.NoError(t, err)
			assert.Equal(t, want, after)
		})
	}
}

func TestRunChunkRecentActivityIsBounded(t *testing.T) {
	s := deliverySession(t, WithRecentActivity(2))
	snap, err := s.RunChunk(context.Background(), engine.Limits{})
	require.NoError(t, err)
	assert.Equal(t, []string{ir.ActionFSMOutput, ir.ActionConsume}, actions(snap.RecentActivity))
}

type evictionCounter struct {
	evicted int
	active  []int
}

func (c *evictionCounter) SnapshotEvicted()     { c.evicted++ }
func (c *evictionCounter) SessionsActive(n int) { c.active = append(c.active, n) }

func TestSnapshotHistoryIsBounded(t *testing.T) {
	rec := &evictionCounter{}
	s := deliverySession(t, WithSnapshotCapacity(2), WithMetrics(rec))

	last, err := s.RunToCompletion(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, last.Outcome)
	assert.Equal(t, 8, s.Len())
	assert.Equal(t, 2, s.Retained())
	assert.Equal(t, 6, rec.evicted)

	tests := []struct {
		name    string
		call    func() ([]Snapshot, error)
		want    []int
		wantErr error
	}{
		{"range inside history", func() ([]Snapshot, error) { return s.Range(7, 100) }, []int{7, 8}, nil},
		{"range reaching evicted", func() ([]Snapshot, error) { return s.Range(6, 8) }, nil, ErrSnapshotEvicted},
		{"range past end", func() ([]Snapshot, error) { return s.Range(9, 12) }, nil, ErrSnapshotNotFound},
		{"last page", func() ([]Snapshot, error) { return s.Page(3, 2) }, []int{7, 8}, nil},
		{"evicted page", func() ([]Snapshot, error) { return s.Page(0, 4) }, nil, ErrSnapshotEvicted},
		{"page past end", func() ([]Snapshot, error) { return s.Page(10, 2) }, []int{}, nil},
		{"bad page size", func() ([]Snapshot, error) { return s.Page(0, 0) }, nil, ErrSnapshotNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.call()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			nums := []int{}
			for _, snap := range got {
				nums = append(nums, snap.Number)
			}
			assert.Equal(t, tt.want, nums)
		})
	}

	_, err = s.At(1)
	assert.ErrorIs(t, err, ErrSnapshotEvicted)
	_, err = s.At(9)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, 8, latest.Number)
}

func TestLatestBeforeAnyChunk(t *testing.T) {
	s := deliverySession(t)
	_, err := s.Latest()
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRunToCompletionChunkBudget(t *testing.T) {
	src := testutil.Source("ticker")
	src.Source = &ir.DataSourceConfig{Interval: 5}
	sc := testutil.NewScenario("forever").Node(src).Node(testutil.Sink("sink")).Chain("ticker", "sink").Build()
	s, err := New("s-forever", sc, nil)
	require.NoError(t, err)

	snap, err := s.RunToCompletion(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeTimeout, snap.Outcome)
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Done())
}

func TestRunChunkSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	s := deliverySession(t, WithTracer(tp.Tracer("test")))

	_, err := s.RunToCompletion(context.Background(), 4, 0)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "session.RunChunk", span.Name())
		assert.Contains(t, span.Attributes(), attribute.String("session_id", "s-1"))
	}
	assert.Contains(t, spans[1].Attributes(), attribute.String("outcome", "completed"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failing := deliverySession(t, WithTracer(tp.Tracer("test")))
	_, err = failing.RunChunk(ctx, engine.Limits{})
	require.ErrorIs(t, err, context.Canceled)
	last := sr.Ended()[len(sr.Ended())-1]
	assert.Equal(t, codes.Error, last.Status().Code)
}

func TestSessionInjectResumes(t *testing.T) {
	s := deliverySession(t)
	ctx := context.Background()
	_, err := s.RunToCompletion(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, s.Done())

	require.NoError(t, s.Inject(testutil.Seed("ord-2", "orders", 4, map[string]any{"action": "deliver"})))
	assert.False(t, s.Done())
	snap, err := s.RunChunk(ctx, engine.Limits{})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, snap.Outcome)
	assert.Equal(t, ir.IRInt(2), snap.NodeStates["done"]["consumed"])
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("bad", testutil.DeliveryScenario(), []ir.ExternalEvent{testutil.Seed("x", "nowhere", 0, nil)})
	assert.ErrorIs(t, err, engine.ErrUnknownTarget)
}
