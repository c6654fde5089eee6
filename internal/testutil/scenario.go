// Package testutil holds scenario builders and deterministic id
// generators shared by tests across packages.
package testutil

import (
	"github.com/roach88/flowsim/internal/ir"
)

// ScenarioBuilder assembles a scenario with consistent two-way wiring.
type ScenarioBuilder struct {
	sc    ir.Scenario
	index map[string]int
}

// NewScenario starts a scenario named name.
func NewScenario(name string) *ScenarioBuilder {
	return &ScenarioBuilder{sc: ir.Scenario{Name: name}, index: map[string]int{}}
}

// Globals sets the scenario's global variables.
func (b *ScenarioBuilder) Globals(g map[string]any) *ScenarioBuilder {
	b.sc.Globals = g
	return b
}

// Node adds a node. Inputs and outputs are normally added with Connect.
func (b *ScenarioBuilder) Node(n ir.NodeConfig) *ScenarioBuilder {
	b.index[n.NodeID] = len(b.sc.Nodes)
	b.sc.Nodes = append(b.sc.Nodes, n)
	return b
}

// Connect wires from's output to to's input on both ends. Output and input
// names default to "out" and "in".
func (b *ScenarioBuilder) Connect(from, output, to, input string) *ScenarioBuilder {
	if output == "" {
		output = "out"
	}
	if input == "" {
		input = "in"
	}
	src := &b.sc.Nodes[b.index[from]]
	src.Outputs = append(src.Outputs, ir.OutputPort{Name: output, DestinationNodeID: to, DestinationInputName: input})
	dst := &b.sc.Nodes[b.index[to]]
	dst.Inputs = append(dst.Inputs, ir.InputPort{Name: input, NodeID: from, SourceOutputName: output})
	return b
}

// Chain connects each node to the next with default port names.
func (b *ScenarioBuilder) Chain(ids ...string) *ScenarioBuilder {
	for i := 1; i < len(ids); i++ {
		b.Connect(ids[i-1], "", ids[i], "")
	}
	return b
}

// Build returns the scenario.
func (b *ScenarioBuilder) Build() ir.Scenario {
	return b.sc
}

// Source returns a DataSource node.
func Source(id string) ir.NodeConfig {
	return ir.NodeConfig{NodeID: id, Type: ir.NodeTypeDataSource}
}

// Sink returns a Sink node.
func Sink(id string) ir.NodeConfig {
	return ir.NodeConfig{NodeID: id, Type: ir.NodeTypeSink}
}

// Queue returns a Queue node flushing every size tokens with method.
func Queue(id string, size int, method string) ir.NodeConfig {
	return ir.NodeConfig{NodeID: id, Type: ir.NodeTypeQueue, Queue: &ir.QueueConfig{
		Trigger: ir.TriggerConfig{Type: ir.TriggerCount, Size: size},
		Method:  method,
	}}
}

// Process returns a Process node.
func Process(id string, duration int64, capacity int) ir.NodeConfig {
	return ir.NodeConfig{NodeID: id, Type: ir.NodeTypeProcess, Process: &ir.ProcessConfig{
		Duration: duration,
		Capacity: capacity,
	}}
}

// FSM returns an FSM node over a modern-form machine.
func FSM(id string, states []ir.FSMState, transitions []ir.FSMTransition) ir.NodeConfig {
	return ir.NodeConfig{NodeID: id, Type: ir.NodeTypeFSM, FSM: &ir.FSMConfig{
		Modern: &ir.ModernFSM{States: states, Transitions: transitions},
	}}
}

// DeliveryScenario is source -> delivery FSM (pending -> delivered on
// "deliver") -> sink.
func DeliveryScenario() ir.Scenario {
	return NewScenario("delivery").
		Node(Source("orders")).
		Node(FSM("delivery",
			[]ir.FSMState{{ID: "pending", IsInitial: true}, {ID: "delivered", IsFinal: true}},
			[]ir.FSMTransition{{From: "pending", To: "delivered", Event: "deliver"}},
		)).
		Node(Sink("done")).
		Chain("orders", "delivery", "done").
		Build()
}

// Seed builds an external event for a DataSource.
func Seed(id, target string, ts int64, data map[string]any) ir.ExternalEvent {
	return ir.ExternalEvent{ID: id, Timestamp: ts, Type: "seed", Data: data, TargetDataSourceID: target}
}
