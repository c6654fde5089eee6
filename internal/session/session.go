// Package session runs simulations in bounded chunks and keeps a bounded
// history of per-chunk snapshots, so callers can page through or rewind a
// run without re-simulating from tick zero.
//
// A Session owns one engine. Sessions never share state; a Manager hosts
// many of them and evicts the least recently used.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/ir"
)

const tracerName = "github.com/roach88/flowsim/internal/session"

const (
	// DefaultSnapshotCapacity bounds the snapshots a session retains.
	DefaultSnapshotCapacity = 512

	// DefaultRecentActivity bounds the ledger tail copied into a snapshot.
	DefaultRecentActivity = 50

	// DefaultMaxChunks bounds RunToCompletion when no limit is given.
	DefaultMaxChunks = 10_000
)

// Recorder receives session metrics.
type Recorder interface {
	SessionsActive(n int)
	SnapshotEvicted()
}

type nopRecorder struct{}

func (nopRecorder) SessionsActive(int) {}
func (nopRecorder) SnapshotEvicted()   {}

// Session is one isolated, chunked simulation run. It is safe for
// concurrent use; chunks run one at a time.
type Session struct {
	id string

	mu      sync.Mutex
	eng     *engine.Engine
	snaps   *ring
	recent  int
	tracer  trace.Tracer
	metrics Recorder
	lastSeq int64
}

type config struct {
	capacity   int
	recent     int
	tracer     trace.Tracer
	metrics    Recorder
	engineOpts []engine.Option
}

// Option configures a Session.
type Option func(*config)

// WithSnapshotCapacity sets how many snapshots are retained. Values below
// one fall back to DefaultSnapshotCapacity.
func WithSnapshotCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithRecentActivity sets how many ledger entries a snapshot carries.
func WithRecentActivity(n int) Option {
	return func(c *config) { c.recent = n }
}

// WithTracer sets the tracer used for chunk spans. The default is the
// global otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) { c.tracer = t }
}

// WithMetrics sets the recorder for snapshot evictions.
func WithMetrics(r Recorder) Option {
	return func(c *config) { c.metrics = r }
}

// WithEngineOptions passes options through to the engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *config) { c.engineOpts = append(c.engineOpts, opts...) }
}

// New creates a session over sc and injects events.
func New(id string, sc ir.Scenario, events []ir.ExternalEvent, opts ...Option) (*Session, error) {
	cfg := config{capacity: DefaultSnapshotCapacity, recent: DefaultRecentActivity}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.capacity < 1 {
		cfg.capacity = DefaultSnapshotCapacity
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	if cfg.metrics == nil {
		cfg.metrics = nopRecorder{}
	}

	eng, err := engine.New(sc, cfg.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	for _, x := range events {
		if err := eng.Inject(x); err != nil {
			return nil, fmt.Errorf("session %s: inject %s: %w", id, x.ID, err)
		}
	}
	return &Session{
		id:      id,
		eng:     eng,
		snaps:   newRing(cfg.capacity),
		recent:  cfg.recent,
		tracer:  cfg.tracer,
		metrics: cfg.metrics,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Scenario returns the scenario the session simulates.
func (s *Session) Scenario() ir.Scenario { return s.eng.Scenario() }

// Inject adds an external event. It resumes a completed session.
func (s *Session) Inject(x ir.ExternalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Inject(x)
}

// Entries returns the full ledger.
func (s *Session) Entries() []ir.ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Ledger().Entries()
}

// NodeErrors returns the node errors recorded so far.
func (s *Session) NodeErrors() map[string][]*engine.NodeError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.NodeErrors()
}

// Done reports whether the run reached a terminal outcome.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Done()
}

// RunChunk advances the engine within limits and records a snapshot.
// On a session that already finished it returns the latest snapshot
// without running.
func (s *Session) RunChunk(ctx context.Context, limits engine.Limits) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eng.Done() && s.snaps.total > 0 {
		return s.snaps.at(s.snaps.total)
	}

	ctx, span := s.tracer.Start(ctx, "session.RunChunk", trace.WithAttributes(
		attribute.String("session_id", s.id),
		attribute.Int("chunk", s.snaps.total+1),
		attribute.Int("max_steps", limits.MaxSteps),
		attribute.Int64("max_ticks", limits.MaxTicks),
	))
	defer span.End()

	res, err := s.eng.Run(ctx, limits)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, fmt.Errorf("session %s: %w", s.id, err)
	}

	snap := Snapshot{
		Number:         s.snaps.total + 1,
		Step:           res.TotalSteps,
		Timestamp:      res.Tick,
		NodeStates:     s.eng.NodeStates(),
		QueueSizes:     s.eng.QueueSizes(),
		RecentActivity: recent(s.eng.Ledger().Since(s.lastSeq), s.recent),
		Outcome:        res.Outcome,
		LastSeq:        s.eng.Ledger().LastSeq(),
	}
	s.lastSeq = snap.LastSeq
	if s.snaps.push(snap) {
		s.metrics.SnapshotEvicted()
	}

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("steps", res.Steps),
		attribute.Int64("tick", res.Tick),
	)
	slog.Debug("session chunk",
		"session_id", s.id,
		"snapshot", snap.Number,
		"steps", res.Steps,
		"outcome", res.Outcome,
	)
	return snap.Clone(), nil
}

// RunToCompletion runs chunks of chunkSteps engine steps until the run
// completes or gets stuck, or maxChunks chunks have run. It returns the
// last snapshot; its Outcome is timeout when the chunk budget ran out.
func (s *Session) RunToCompletion(ctx context.Context, chunkSteps, maxChunks int) (Snapshot, error) {
	if maxChunks < 1 {
		maxChunks = DefaultMaxChunks
	}
	var snap Snapshot
	for range maxChunks {
		var err error
		snap, err = s.RunChunk(ctx, engine.Limits{MaxSteps: chunkSteps})
		if err != nil {
			return snap, err
		}
		if snap.Outcome != engine.OutcomeTimeout {
			return snap, nil
		}
	}
	return snap, nil
}
