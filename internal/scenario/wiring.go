package scenario

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/flowsim/internal/expr"
	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/processor"
)

// Warning codes.
const (
	WarnFSM        = "W200" // FSM definition is usable but suspicious
	WarnCycle      = "W201" // connections form a loop
	WarnNoInputs   = "W202" // non-source node nothing can reach
	WarnSinkOutput = "W203" // sink outputs are never used
	WarnExpression = "W204" // guard or transform does not compile; it evaluates as false
)

// Warning is an advisory finding; it never blocks a run.
type Warning struct {
	Code    string   `json:"code"`
	Path    string   `json:"path,omitempty"`
	Message string   `json:"message"`
	Cycle   []string `json:"cycle,omitempty"`
}

func (w Warning) String() string {
	if w.Path == "" {
		return fmt.Sprintf("[%s] %s", w.Code, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Code, w.Path, w.Message)
}

var sectionFor = map[ir.NodeType]string{
	ir.NodeTypeDataSource:  "source",
	ir.NodeTypeQueue:       "queue",
	ir.NodeTypeAggregator:  "queue",
	ir.NodeTypeProcess:     "process",
	ir.NodeTypeMultiplexer: "multiplexer",
	ir.NodeTypeSink:        "sink",
	ir.NodeTypeFSM:         "fsm",
}

func nodePath(i int) string { return fmt.Sprintf("nodes[%d]", i) }

func findInput(n ir.NodeConfig, name string) (ir.InputPort, bool) {
	for _, in := range n.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return ir.InputPort{}, false
}

// checkWiring verifies that each connection is described identically by
// the output on one end and the input on the other.
func checkWiring(sc ir.Scenario, verr *ValidationError) {
	nodes := make(map[string]ir.NodeConfig, len(sc.Nodes))
	for i, n := range sc.Nodes {
		if _, dup := nodes[n.NodeID]; dup {
			verr.add(CodeDuplicateNode, nodePath(i)+".nodeId", "node id %q is used more than once", n.NodeID)
			continue
		}
		nodes[n.NodeID] = n
	}

	for i, n := range sc.Nodes {
		seen := map[string]bool{}
		for j, o := range n.Outputs {
			path := fmt.Sprintf("%s.outputs[%d]", nodePath(i), j)
			if seen[o.Name] {
				verr.add(CodeDuplicatePort, path, "output %q is declared twice on %s", o.Name, n.NodeID)
				continue
			}
			seen[o.Name] = true
			dst, ok := nodes[o.DestinationNodeID]
			if !ok {
				verr.add(CodeDanglingPort, path, "destination node %q does not exist", o.DestinationNodeID)
				continue
			}
			in, ok := findInput(dst, o.DestinationInputName)
			if !ok {
				verr.add(CodeWiringMismatch, path, "%s has no input %q", dst.NodeID, o.DestinationInputName)
				continue
			}
			if in.NodeID != n.NodeID || in.SourceOutputName != o.Name {
				verr.add(CodeWiringMismatch, path, "input %s.%s points back at %s.%s, not %s.%s",
					dst.NodeID, in.Name, in.NodeID, in.SourceOutputName, n.NodeID, o.Name)
			}
		}

		seen = map[string]bool{}
		for j, in := range n.Inputs {
			path := fmt.Sprintf("%s.inputs[%d]", nodePath(i), j)
			if seen[in.Name] {
				verr.add(CodeDuplicatePort, path, "input %q is declared twice on %s", in.Name, n.NodeID)
				continue
			}
			seen[in.Name] = true
			src, ok := nodes[in.NodeID]
			if !ok {
				verr.add(CodeDanglingPort, path, "source node %q does not exist", in.NodeID)
				continue
			}
			if _, ok := src.Output(in.SourceOutputName); !ok {
				verr.add(CodeWiringMismatch, path, "%s has no output %q", src.NodeID, in.SourceOutputName)
			}
		}
	}
}

// checkNodes applies the per-type rules: typed sections, expressions and
// route targets.
func checkNodes(sc ir.Scenario, verr *ValidationError) {
	for i, n := range sc.Nodes {
		path := nodePath(i)
		want, known := sectionFor[n.Type]
		if !known {
			verr.add(CodeSchema, path+".type", "unknown node type %q", n.Type)
		}
		for _, got := range sectionsOf(n) {
			if known && got != want {
				verr.add(CodeSectionMismatch, path+"."+got, "%s node carries a %s section", n.Type, got)
			}
		}
		if n.Type == ir.NodeTypeDataSource && len(n.Inputs) > 0 {
			verr.add(CodeSourceInput, path+".inputs", "DataSource nodes take no inputs")
		}

		if m := n.Multiplexer; m != nil {
			for j, r := range m.Routes {
				rpath := fmt.Sprintf("%s.multiplexer.routes[%d]", path, j)
				if _, ok := n.Output(r.Output); !ok {
					verr.add(CodeUnknownOutput, rpath+".output", "%s has no output %q", n.NodeID, r.Output)
				}
			}
			if m.DefaultOutput != "" {
				if _, ok := n.Output(m.DefaultOutput); !ok {
					verr.add(CodeUnknownOutput, path+".multiplexer.defaultOutput", "%s has no output %q", n.NodeID, m.DefaultOutput)
				}
			}
		}
		if n.FSM != nil {
			checkFSM(n, path+".fsm", verr)
		}
	}
}

func checkFSM(n ir.NodeConfig, path string, verr *ValidationError) {
	m := n.FSM.Normalize()
	problems, _ := processor.ValidateFSM(m)
	for _, p := range problems {
		verr.add(CodeFSM, path, "%v", p)
	}
	for _, a := range fsmActions(m) {
		if a.Type == ir.FSMActionEmitData && a.Output != "" {
			if _, ok := n.Output(a.Output); !ok {
				verr.add(CodeUnknownOutput, path, "emit_data names output %q, which %s lacks", a.Output, n.NodeID)
			}
		}
	}
}

func fsmActions(m ir.CanonicalFSM) []ir.FSMAction {
	var out []ir.FSMAction
	for _, s := range m.States {
		out = append(out, s.OnEntry...)
		out = append(out, s.OnExit...)
		if s.Timeout != nil && s.Timeout.Action != nil {
			out = append(out, *s.Timeout.Action)
		}
	}
	for _, t := range m.Transitions {
		out = append(out, t.Actions...)
	}
	return out
}

func sectionsOf(n ir.NodeConfig) []string {
	var out []string
	if n.Source != nil {
		out = append(out, "source")
	}
	if n.Queue != nil {
		out = append(out, "queue")
	}
	if n.Process != nil {
		out = append(out, "process")
	}
	if n.Multiplexer != nil {
		out = append(out, "multiplexer")
	}
	if n.Sink != nil {
		out = append(out, "sink")
	}
	if n.FSM != nil {
		out = append(out, "fsm")
	}
	return out
}

func advisories(sc ir.Scenario) []Warning {
	var out []Warning
	for i, n := range sc.Nodes {
		path := nodePath(i)
		if n.Type != ir.NodeTypeDataSource && len(n.Inputs) == 0 {
			out = append(out, Warning{Code: WarnNoInputs, Path: path, Message: fmt.Sprintf("%s has no inputs and will never receive tokens", n.NodeID)})
		}
		if n.Type == ir.NodeTypeSink && len(n.Outputs) > 0 {
			out = append(out, Warning{Code: WarnSinkOutput, Path: path + ".outputs", Message: fmt.Sprintf("sink %s never emits; its outputs are unused", n.NodeID)})
		}
		if p := n.Process; p != nil {
			for _, field := range slices.Sorted(maps.Keys(p.Transform)) {
				out = appendExpressionWarning(out, path+".process.transform."+field, p.Transform[field])
			}
		}
		if m := n.Multiplexer; m != nil {
			for j, r := range m.Routes {
				out = appendExpressionWarning(out, fmt.Sprintf("%s.multiplexer.routes[%d].condition", path, j), r.Condition)
			}
		}
		if n.FSM != nil {
			_, warnings := processor.ValidateFSM(n.FSM.Normalize())
			for _, w := range warnings {
				out = append(out, Warning{Code: WarnFSM, Path: path + ".fsm", Message: w})
			}
		}
	}
	return out
}

// appendExpressionWarning flags src when it is set but does not compile.
// Evaluation treats such an expression as false, so the run still works.
func appendExpressionWarning(out []Warning, path, src string) []Warning {
	if src == "" {
		return out
	}
	if _, err := expr.Compile(src); err != nil {
		out = append(out, Warning{Code: WarnExpression, Path: path, Message: fmt.Sprintf("%q does not compile and evaluates as false: %v", src, err)})
	}
	return out
}
