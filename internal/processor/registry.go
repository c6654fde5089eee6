package processor

import (
	"fmt"
	"slices"

	"github.com/roach88/flowsim/internal/ir"
)

// Registry maps node types to processors.
type Registry struct {
	byType map[ir.NodeType]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[ir.NodeType]Processor)}
}

// NewDefaultRegistry registers every built-in processor. Aggregator is an
// alias for Queue.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	queue := &Queue{}
	r.Register(&DataSource{})
	r.Register(queue)
	r.RegisterAs(ir.NodeTypeAggregator, queue)
	r.Register(&Process{})
	r.Register(&Multiplexer{})
	r.Register(&Sink{})
	r.Register(&FSM{})
	return r
}

// Register adds p under its own node type, replacing any previous entry.
func (r *Registry) Register(p Processor) {
	r.byType[p.NodeType()] = p
}

// RegisterAs adds p under an alias node type.
func (r *Registry) RegisterAs(t ir.NodeType, p Processor) {
	r.byType[t] = p
}

// Lookup returns the processor for t.
func (r *Registry) Lookup(t ir.NodeType) (Processor, error) {
	p, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, t)
	}
	return p, nil
}

// Types returns the registered node types in sorted order.
func (r *Registry) Types() []ir.NodeType {
	out := make([]ir.NodeType, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
