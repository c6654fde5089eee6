// Package metrics exposes engine and session counters as Prometheus
// collectors. A Collector satisfies both engine.Recorder and
// session.Recorder; metrics never influence the ledger.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector bundles the simulation metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Dispatched *prometheus.CounterVec
	Activities *prometheus.CounterVec
	NodeErrors *prometheus.CounterVec
	Runs       *prometheus.CounterVec
	Depth      prometheus.Gauge
	Sessions   prometheus.Gauge
	Evictions  prometheus.Counter
}

// NewCollector registers the simulation metrics against reg, defaulting to
// the global registry when nil. Registering twice against the same
// registry returns collectors sharing the existing series.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatched, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsim_events_dispatched_total",
		Help: "Events dispatched by the engine, labeled by event type.",
	}, []string{"event_type"}), "flowsim_events_dispatched_total")
	if err != nil {
		return nil, err
	}
	activities, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsim_activities_total",
		Help: "Ledger entries appended, labeled by node type and action.",
	}, []string{"node_type", "action"}), "flowsim_activities_total")
	if err != nil {
		return nil, err
	}
	nodeErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsim_node_errors_total",
		Help: "Node errors recorded during runs, labeled by error code.",
	}, []string{"code"}), "flowsim_node_errors_total")
	if err != nil {
		return nil, err
	}
	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsim_runs_total",
		Help: "Bounded runs finished, labeled by outcome.",
	}, []string{"outcome"}), "flowsim_runs_total")
	if err != nil {
		return nil, err
	}
	depth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsim_queue_depth",
		Help: "Pending events in the engine queue after the last step.",
	}), "flowsim_queue_depth")
	if err != nil {
		return nil, err
	}
	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsim_sessions_active",
		Help: "Sessions currently held by the session manager.",
	}), "flowsim_sessions_active")
	if err != nil {
		return nil, err
	}
	evictions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsim_snapshot_evictions_total",
		Help: "Snapshots dropped from bounded session history.",
	}), "flowsim_snapshot_evictions_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:   gatherer,
		Dispatched: dispatched,
		Activities: activities,
		NodeErrors: nodeErrors,
		Runs:       runs,
		Depth:      depth,
		Sessions:   sessions,
		Evictions:  evictions,
	}, nil
}

// EventDispatched implements engine.Recorder.
func (c *Collector) EventDispatched(eventType string) {
	if c == nil {
		return
	}
	c.Dispatched.WithLabelValues(eventType).Inc()
}

// ActivityAppended implements engine.Recorder.
func (c *Collector) ActivityAppended(nodeType, action string) {
	if c == nil {
		return
	}
	c.Activities.WithLabelValues(nodeType, action).Inc()
}

// NodeError implements engine.Recorder.
func (c *Collector) NodeError(code string) {
	if c == nil {
		return
	}
	c.NodeErrors.WithLabelValues(code).Inc()
}

// RunFinished implements engine.Recorder.
func (c *Collector) RunFinished(outcome string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(outcome).Inc()
}

// QueueDepth implements engine.Recorder.
func (c *Collector) QueueDepth(n int) {
	if c == nil {
		return
	}
	c.Depth.Set(float64(n))
}

// SessionsActive implements session.Recorder.
func (c *Collector) SessionsActive(n int) {
	if c == nil {
		return
	}
	c.Sessions.Set(float64(n))
}

// SnapshotEvicted implements session.Recorder.
func (c *Collector) SnapshotEvicted() {
	if c == nil {
		return
	}
	c.Evictions.Inc()
}

// WriteText writes every metric family of the collector's registry in the
// Prometheus text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
