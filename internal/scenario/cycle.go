package scenario

import (
	"fmt"
	"strings"

	"github.com/roach88/flowsim/internal/ir"
)

// CycleWarning describes a loop in the node graph.
//
// Loops are legal: retry paths and FSM feedback rely on them, and the
// engine's chain limit bounds how far a token can circulate.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// AnalyzeCycles finds the strongly connected components of the connection
// graph and reports each one that forms a loop. Results follow scenario
// node order, so the same document always yields the same warnings.
func AnalyzeCycles(sc ir.Scenario) []CycleWarning {
	g := buildGraph(sc)
	var warnings []CycleWarning
	for _, scc := range g.tarjan() {
		if len(scc) > 1 || g.hasEdge(scc[0], scc[0]) {
			warnings = append(warnings, g.warning(scc))
		}
	}
	return warnings
}

type graph struct {
	order []string
	rank  map[string]int
	edges map[string][]string
}

func buildGraph(sc ir.Scenario) *graph {
	g := &graph{rank: map[string]int{}, edges: map[string][]string{}}
	for _, n := range sc.Nodes {
		if _, ok := g.rank[n.NodeID]; ok {
			continue
		}
		g.rank[n.NodeID] = len(g.order)
		g.order = append(g.order, n.NodeID)
	}
	for _, n := range sc.Nodes {
		for _, o := range n.Outputs {
			if _, ok := g.rank[o.DestinationNodeID]; ok {
				g.edges[n.NodeID] = append(g.edges[n.NodeID], o.DestinationNodeID)
			}
		}
	}
	return g
}

func (g *graph) hasEdge(from, to string) bool {
	for _, w := range g.edges[from] {
		if w == to {
			return true
		}
	}
	return false
}

// tarjan returns the strongly connected components, visiting roots in
// node order. Each component is rotated to start at its earliest node.
func (g *graph) tarjan() [][]string {
	var (
		next    int
		stack   []string
		index   = map[string]int{}
		low     = map[string]int{}
		onStack = map[string]bool{}
		sccs    [][]string
	)

	var visit func(string)
	visit = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, seen := index[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, g.sortByRank(scc))
		}
	}

	for _, v := range g.order {
		if _, seen := index[v]; !seen {
			visit(v)
		}
	}
	return sccs
}

func (g *graph) sortByRank(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && g.rank[out[j]] < g.rank[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (g *graph) warning(scc []string) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("node %s feeds itself", id),
		}
	}
	path := g.walk(scc)
	return CycleWarning{
		Path:    path,
		Message: "loop: " + strings.Join(path, " -> "),
	}
}

// walk follows edges inside the component from its earliest node until
// it returns to the start.
func (g *graph) walk(scc []string) []string {
	members := make(map[string]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}
	start := scc[0]
	current := start
	path := []string{start}
	visited := map[string]bool{}
	for {
		visited[current] = true
		var next string
		if len(path) > 1 && g.hasEdge(current, start) {
			next = start
		} else {
			for _, w := range g.edges[current] {
				if members[w] && !visited[w] {
					next = w
					break
				}
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
