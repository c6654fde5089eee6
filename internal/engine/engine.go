package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/ledger"
	"github.com/roach88/flowsim/internal/processor"
)

// Outcome is the terminal status of a Run call.
type Outcome string

const (
	// OutcomeCompleted: the queue drained.
	OutcomeCompleted Outcome = "completed"

	// OutcomeTimeout: the step budget was spent, or the next event lies
	// beyond the tick budget. The run can be resumed.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeStuck: events keep circulating without any node making
	// progress.
	OutcomeStuck Outcome = "stuck"
)

// DefaultMaxChain bounds the causal depth of any event chain.
const DefaultMaxChain = 100_000

// Limits bounds one Run call. Zero means unbounded.
type Limits struct {
	MaxSteps int
	MaxTicks int64
}

// RunResult summarizes one Run call.
type RunResult struct {
	Outcome Outcome
	// Steps is the number of events dispatched by this call.
	Steps int
	// TotalSteps is the number of events dispatched since the engine started.
	TotalSteps int64
	// Tick is the simulation time after the call.
	Tick int64
}

// Recorder receives engine counters. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	EventDispatched(eventType string)
	ActivityAppended(nodeType, action string)
	NodeError(code string)
	RunFinished(outcome string)
	QueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) EventDispatched(string)          {}
func (nopRecorder) ActivityAppended(string, string) {}
func (nopRecorder) NodeError(string)                {}
func (nopRecorder) RunFinished(string)              {}
func (nopRecorder) QueueDepth(int)                  {}

// Engine is a discrete-event scheduler over one scenario.
//
// The engine exclusively owns the per-node states, the event queue and the
// ledger of its run. It is single-threaded: Run, Inject and the accessors
// must not be called concurrently. Independent engines share nothing.
//
// INVARIANTS:
//   - events are dispatched in (timestamp, insertion) order
//   - simulation time never moves backwards
//   - a processor error never aborts a run
type Engine struct {
	scenario ir.Scenario
	nodes    map[string]ir.NodeConfig
	order    []string

	registry *processor.Registry
	env      *processor.Env
	ledger   *ledger.Ledger
	queue    *eventQueue
	states   map[string]processor.State
	errors   map[string][]*NodeError
	metrics  Recorder

	strict   bool
	maxChain int

	started    bool
	now        int64
	steps      int64
	noProgress int
	outcome    Outcome
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the default processor registry.
func WithRegistry(r *processor.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithMetrics attaches a counter recorder.
func WithMetrics(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithStrictGuards turns guard and transform evaluation failures into node
// errors instead of unsatisfied conditions.
func WithStrictGuards() Option {
	return func(e *Engine) { e.strict = true }
}

// WithMaxChain bounds the causal depth of event chains. Events past the
// bound are dropped with a CHAIN_LIMIT node error.
func WithMaxChain(n int) Option {
	return func(e *Engine) { e.maxChain = n }
}

// New creates an engine for sc. The scenario is copied.
func New(sc ir.Scenario, opts ...Option) (*Engine, error) {
	e := &Engine{
		scenario: sc,
		nodes:    make(map[string]ir.NodeConfig, len(sc.Nodes)),
		registry: processor.NewDefaultRegistry(),
		ledger:   ledger.New(),
		queue:    newEventQueue(),
		states:   make(map[string]processor.State, len(sc.Nodes)),
		errors:   make(map[string][]*NodeError),
		metrics:  nopRecorder{},
		maxChain: DefaultMaxChain,
	}
	e.scenario.Nodes = slices.Clone(sc.Nodes)
	for _, n := range sc.Nodes {
		if _, dup := e.nodes[n.NodeID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.NodeID)
		}
		e.nodes[n.NodeID] = n
		e.order = append(e.order, n.NodeID)
	}
	for _, opt := range opts {
		opt(e)
	}

	globals, err := ir.ObjectFromGo(sc.Globals)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: globals: %w", sc.Name, err)
	}
	e.env = processor.NewEnv(globals, e.strict)
	return e, nil
}

// Inject schedules an external event as a seed for its DataSource node.
// Events timestamped before the current simulation time run at the
// current time.
func (e *Engine) Inject(x ir.ExternalEvent) error {
	node, ok := e.nodes[x.TargetDataSourceID]
	if !ok || node.Type != ir.NodeTypeDataSource {
		return fmt.Errorf("%w: external event %s targets %q", ErrUnknownTarget, x.ID, x.TargetDataSourceID)
	}
	data, err := ir.ObjectFromGo(x.Data)
	if err != nil {
		return fmt.Errorf("external event %s: data: %w", x.ID, err)
	}

	ts := x.Timestamp
	if ts < e.now {
		slog.Warn("external event in the past runs now",
			"external_event_id", x.ID,
			"timestamp", x.Timestamp,
			"now", e.now,
		)
		ts = e.now
	}
	meta := ir.IRObject{ir.MetaExternalID: ir.IRString(x.ID)}
	if x.Type != "" {
		meta["type"] = ir.IRString(x.Type)
	}
	e.queue.push(ir.Event{
		Type:         ir.EventDataEmit,
		Timestamp:    ts,
		TargetNodeID: x.TargetDataSourceID,
		Data:         data,
		CausedBy:     x.ID,
		Metadata:     meta,
	}, 0)
	e.outcome = ""
	return nil
}

// start schedules SimulationStart for every node, in scenario order.
func (e *Engine) start() {
	e.started = true
	e.ledger.Append(ir.ActivityEntry{
		Action: ir.ActionSimulationStarted,
		Value: ir.IRObject{
			"scenario": ir.IRString(e.scenario.Name),
			"nodes":    ir.IRInt(len(e.order)),
		},
		Metadata: ir.IRObject{},
	})
	for _, id := range e.order {
		e.queue.push(ir.Event{
			Type:         ir.EventSimulationStart,
			TargetNodeID: id,
		}, 0)
	}
}

// Run drains events until the queue is empty, a limit is hit, or the run
// is stuck. A run that stopped on a limit can be resumed by calling Run
// again. The context is only checked between events.
func (e *Engine) Run(ctx context.Context, limits Limits) (RunResult, error) {
	if !e.started {
		e.start()
	}
	res := RunResult{}
	finish := func(o Outcome) (RunResult, error) {
		if o != OutcomeTimeout {
			e.outcome = o
		}
		res.Outcome = o
		res.TotalSteps = e.steps
		res.Tick = e.now
		e.metrics.RunFinished(string(o))
		e.metrics.QueueDepth(e.queue.len())
		slog.Debug("run finished",
			"outcome", o,
			"steps", res.Steps,
			"total_steps", e.steps,
			"tick", e.now,
			"queued", e.queue.len(),
		)
		return res, nil
	}

	if e.outcome == OutcomeStuck {
		return finish(OutcomeStuck)
	}
	for {
		if err := ctx.Err(); err != nil {
			res.TotalSteps = e.steps
			res.Tick = e.now
			return res, err
		}
		next, ok := e.queue.peek()
		if !ok {
			return finish(OutcomeCompleted)
		}
		if limits.MaxSteps > 0 && res.Steps >= limits.MaxSteps {
			return finish(OutcomeTimeout)
		}
		if limits.MaxTicks > 0 && next.ev.Timestamp > limits.MaxTicks {
			return finish(OutcomeTimeout)
		}

		it, _ := e.queue.pop()
		step := e.dispatch(it)
		res.Steps++

		switch step {
		case stepProgress:
			e.noProgress = 0
		case stepIdle:
			e.noProgress++
			if e.noProgress >= e.stuckThreshold() && e.queue.len() > 0 {
				slog.Warn("simulation stuck",
					"steps_without_progress", e.noProgress,
					"queued", e.queue.len(),
					"tick", e.now,
				)
				return finish(OutcomeStuck)
			}
		}
	}
}

// stuckThreshold is two full passes over every node, plus slack. Only
// idle processor steps count toward it.
func (e *Engine) stuckThreshold() int {
	return 2*len(e.order) + 2
}

// stepKind classifies a dispatched event for stuck detection.
type stepKind int

const (
	// stepRoute is an engine routing hop; it neither makes nor loses progress.
	stepRoute stepKind = iota
	// stepProgress recorded activity, changed node state, moved time
	// forward or ended a chain.
	stepProgress
	// stepIdle only rescheduled work at the current tick.
	stepIdle
)

// dispatch processes one event and classifies the step.
func (e *Engine) dispatch(it *queued) stepKind {
	ev := it.ev
	e.now = max(e.now, ev.Timestamp)
	e.steps++
	e.metrics.EventDispatched(string(ev.Type))

	slog.Debug("dispatching event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"target_node_id", ev.TargetNodeID,
		"tick", ev.Timestamp,
	)

	if ev.Type == ir.EventDataEmit && ev.Token != nil {
		for _, out := range e.route(ev) {
			e.schedule(out, it)
		}
		return stepRoute
	}

	before := e.states[ev.TargetNodeID]
	produced, acts := e.process(ev)
	for _, a := range acts {
		e.appendActivity(a)
	}
	for _, out := range produced {
		e.schedule(out, it)
	}

	switch {
	case len(acts) > 0, len(produced) == 0:
		return stepProgress
	case stateChanged(before, e.states[ev.TargetNodeID]):
		return stepProgress
	}
	for _, out := range produced {
		if out.Timestamp > e.now {
			return stepProgress
		}
	}
	return stepIdle
}

// stateChanged compares node state snapshots. Processors replace their
// state rather than mutate it, so before still shows the old state.
func stateChanged(before, after processor.State) bool {
	if before == nil || after == nil {
		return before != nil || after != nil
	}
	a, errA := ir.MarshalCanonical(before.Snapshot())
	b, errB := ir.MarshalCanonical(after.Snapshot())
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(a, b)
}

// process runs the target node's processor. On error the returned state
// and activities are kept, the events are dropped, and a node error is
// recorded.
func (e *Engine) process(ev ir.Event) ([]ir.Event, []ir.ActivityEntry) {
	node, ok := e.nodes[ev.TargetNodeID]
	if !ok {
		e.nodeError(ev, ErrCodeUnknownNode, ir.NodeType(""), fmt.Errorf("no node %q in scenario", ev.TargetNodeID))
		return nil, nil
	}
	p, err := e.registry.Lookup(node.Type)
	if err != nil {
		e.nodeError(ev, ErrCodeUnknownNodeType, node.Type, err)
		return nil, nil
	}
	if err := processor.ValidateEvent(p, ev); err != nil {
		e.nodeError(ev, ErrCodeUnsupportedEvent, node.Type, err)
		return nil, nil
	}

	res, err := p.Process(e.env, ev, node, e.states[node.NodeID])
	if res.State != nil {
		e.states[node.NodeID] = res.State
	}
	if err != nil {
		e.nodeError(ev, errorCode(err), node.Type, err)
		return nil, res.Activities
	}
	return res.Events, res.Activities
}

func errorCode(err error) NodeErrorCode {
	var guard *processor.GuardError
	var unsupported *processor.UnsupportedEventError
	switch {
	case errors.Is(err, processor.ErrInvalidFSMConfig):
		return ErrCodeInvalidConfig
	case errors.As(err, &guard):
		return ErrCodeGuardFailed
	case errors.As(err, &unsupported):
		return ErrCodeUnsupportedEvent
	case errors.Is(err, processor.ErrUnknownNodeType):
		return ErrCodeUnknownNodeType
	}
	return ErrCodeProcessor
}

// route turns a token emission into TokenArrival events.
//
// A token with an explicit target goes straight there. Otherwise it
// follows the source node's outputs, or only the output named in the
// event's "output" metadata.
func (e *Engine) route(ev ir.Event) []ir.Event {
	if ev.TargetNodeID != "" {
		return []ir.Event{e.arrival(ev, ev.TargetNodeID, "", "")}
	}

	src, ok := e.nodes[ev.SourceNodeID]
	if !ok {
		e.nodeError(ev, ErrCodeUnknownNode, "", fmt.Errorf("emission from undeclared node %q", ev.SourceNodeID))
		return nil
	}
	outs := src.Outputs
	if name := ev.Metadata.String(ir.MetaOutput); name != "" {
		out, ok := src.Output(name)
		if !ok {
			e.nodeError(ev, ErrCodeUnknownOutput, src.Type, fmt.Errorf("node %s has no output %q", src.NodeID, name))
			return nil
		}
		outs = []ir.OutputPort{out}
	}
	if len(outs) == 0 {
		slog.Debug("token emitted with no outputs", "node_id", src.NodeID, "token_id", ev.Token.ID)
	}

	events := make([]ir.Event, 0, len(outs))
	for _, out := range outs {
		events = append(events, e.arrival(ev, out.DestinationNodeID, out.DestinationInputName, out.Name))
	}
	return events
}

func (e *Engine) arrival(ev ir.Event, target, input, output string) ir.Event {
	tok := *ev.Token
	meta := ir.IRObject{ir.MetaInput: ir.IRString(input)}
	if output != "" {
		meta[ir.MetaOutput] = ir.IRString(output)
	}
	for k, v := range ev.Metadata {
		if _, set := meta[k]; !set {
			meta[k] = ir.CloneValue(v)
		}
	}
	return ir.Event{
		Type:         ir.EventTokenArrival,
		Timestamp:    ev.Timestamp,
		SourceNodeID: ev.SourceNodeID,
		TargetNodeID: target,
		Token:        &tok,
		Metadata:     meta,
	}
}

// schedule enqueues an event produced while handling parent.
func (e *Engine) schedule(ev ir.Event, parent *queued) {
	ev.CausedBy = parent.ev.ID
	if ev.Timestamp < e.now {
		ev.Timestamp = e.now
	}
	depth := parent.depth + 1
	if e.maxChain > 0 && depth > e.maxChain {
		node := ev.TargetNodeID
		if node == "" {
			node = ev.SourceNodeID
		}
		e.nodeError(ir.Event{ID: parent.ev.ID, Type: ev.Type, TargetNodeID: node, Timestamp: ev.Timestamp},
			ErrCodeChainLimit, e.nodes[node].Type, fmt.Errorf("causal chain deeper than %d", e.maxChain))
		return
	}
	e.queue.push(ev, depth)
}

func (e *Engine) appendActivity(a ir.ActivityEntry) {
	if a.Metadata == nil {
		a.Metadata = ir.IRObject{}
	}
	e.ledger.Append(a)
	e.metrics.ActivityAppended(string(a.NodeType), a.Action)
}

// nodeError records a failure in the node's error state and the ledger.
func (e *Engine) nodeError(ev ir.Event, code NodeErrorCode, nodeType ir.NodeType, err error) {
	ne := &NodeError{
		Code:      code,
		NodeID:    ev.TargetNodeID,
		EventID:   ev.ID,
		EventType: string(ev.Type),
		Tick:      ev.Timestamp,
		Err:       err,
	}
	if ne.NodeID == "" {
		ne.NodeID = ev.SourceNodeID
	}
	e.errors[ne.NodeID] = append(e.errors[ne.NodeID], ne)
	e.metrics.NodeError(string(code))

	slog.Error("node error",
		"node_id", ne.NodeID,
		"code", code,
		"event_id", ev.ID,
		"event_type", ev.Type,
		"tick", ev.Timestamp,
		"error", err,
	)
	e.appendActivity(ir.ActivityEntry{
		Tick:     ev.Timestamp,
		NodeID:   ne.NodeID,
		NodeType: nodeType,
		Action:   ir.ActionNodeError,
		Value:    ir.IRString(err.Error()),
		Metadata: ir.IRObject{
			"code":      ir.IRString(code),
			"eventId":   ir.IRString(ev.ID),
			"eventType": ir.IRString(ev.Type),
		},
	})
}

// Ledger returns the run's activity ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Scenario returns the scenario the engine runs.
func (e *Engine) Scenario() ir.Scenario { return e.scenario }

// Now returns the current simulation time.
func (e *Engine) Now() int64 { return e.now }

// Steps returns the number of events dispatched so far.
func (e *Engine) Steps() int64 { return e.steps }

// Outcome returns the terminal outcome, or "" while the run can continue.
func (e *Engine) Outcome() Outcome { return e.outcome }

// Done reports whether the run has completed or is stuck.
func (e *Engine) Done() bool { return e.outcome != "" }

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int { return e.queue.len() }

// QueueSizes returns the number of pending events per node.
func (e *Engine) QueueSizes() map[string]int { return e.queue.sizes() }

// NodeStates renders every node's state. Nodes that have not started are
// omitted.
func (e *Engine) NodeStates() map[string]ir.IRObject {
	out := make(map[string]ir.IRObject, len(e.states))
	for id, st := range e.states {
		out[id] = st.Snapshot()
	}
	return out
}

// State returns the raw state of one node.
func (e *Engine) State(nodeID string) (processor.State, bool) {
	st, ok := e.states[nodeID]
	return st, ok
}

// NodeErrors returns the recorded node errors, keyed by node id.
func (e *Engine) NodeErrors() map[string][]*NodeError {
	out := make(map[string][]*NodeError, len(e.errors))
	for k, v := range e.errors {
		out[k] = slices.Clone(v)
	}
	return out
}
