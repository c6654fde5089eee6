package lineage

import (
	"cmp"
	"slices"

	"github.com/roach88/flowsim/internal/ir"
)

// RootTokens returns tokens with no parent edges.
func (t *Tracker) RootTokens() []string {
	var out []string
	for _, id := range t.order {
		if len(t.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// LeafTokens returns tokens with no child edges.
func (t *Tracker) LeafTokens() []string {
	var out []string
	for _, id := range t.order {
		if len(t.children[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// LongestPath returns the longest chain of child edges starting at a root.
// Ties keep the path found first. A ledger whose every token sits on a
// cycle has no roots and an empty longest path.
func (t *Tracker) LongestPath() []string {
	var best []string
	for _, root := range t.RootTokens() {
		if p := t.longestFrom([]string{root}); len(p) > len(best) {
			best = p
		}
	}
	return best
}

func (t *Tracker) longestFrom(path []string) []string {
	best := slices.Clone(path)
	id := path[len(path)-1]
	for _, next := range t.children[id] {
		if slices.Contains(path, next) {
			continue
		}
		if p := t.longestFrom(append(slices.Clip(path), next)); len(p) > len(best) {
			best = p
		}
	}
	return best
}

// Point is a token with more than one edge in one direction.
type Point struct {
	TokenID string `json:"tokenId"`
	Edges   int    `json:"edges"`
}

// BranchingPoints returns tokens with more than one child.
func (t *Tracker) BranchingPoints() []Point {
	return t.points(t.children)
}

// ConvergencePoints returns tokens with more than one parent.
func (t *Tracker) ConvergencePoints() []Point {
	return t.points(t.parents)
}

func (t *Tracker) points(edges map[string][]string) []Point {
	var out []Point
	for _, id := range t.order {
		if n := len(edges[id]); n > 1 {
			out = append(out, Point{TokenID: id, Edges: n})
		}
	}
	return out
}

// AverageBranchingFactor is the number of child edges divided by the number
// of tokens with at least one child, or 0 when nothing has children.
func (t *Tracker) AverageBranchingFactor() float64 {
	var edges, parents int
	for _, kids := range t.children {
		if len(kids) > 0 {
			edges += len(kids)
			parents++
		}
	}
	if parents == 0 {
		return 0
	}
	return float64(edges) / float64(parents)
}

// Statistics summarizes the shape of the lineage graph.
type Statistics struct {
	Tokens                 int     `json:"tokens"`
	Edges                  int     `json:"edges"`
	Roots                  int     `json:"roots"`
	Leaves                 int     `json:"leaves"`
	MaxGeneration          int     `json:"maxGeneration"`
	LongestPath            int     `json:"longestPath"`
	BranchingPoints        int     `json:"branchingPoints"`
	ConvergencePoints      int     `json:"convergencePoints"`
	AverageBranchingFactor float64 `json:"averageBranchingFactor"`
	Correlations           int     `json:"correlations"`
	MissingTokens          int     `json:"missingTokens"`
}

// Statistics computes every shape metric at once.
func (t *Tracker) Statistics() Statistics {
	s := Statistics{
		Tokens:                 len(t.order),
		Roots:                  len(t.RootTokens()),
		Leaves:                 len(t.LeafTokens()),
		LongestPath:            len(t.LongestPath()),
		BranchingPoints:        len(t.BranchingPoints()),
		ConvergencePoints:      len(t.ConvergencePoints()),
		AverageBranchingFactor: t.AverageBranchingFactor(),
		Correlations:           len(t.corrs),
	}
	for _, id := range t.order {
		rec := t.tokens[id]
		s.Edges += len(t.children[id])
		s.MaxGeneration = max(s.MaxGeneration, rec.Generation)
		if rec.Missing {
			s.MissingTokens++
		}
	}
	return s
}

// Journey is the path of one correlation id through the workflow.
type Journey struct {
	CorrelationID   string             `json:"correlationId"`
	Activities      []ir.ActivityEntry `json:"activities"`
	Nodes           []string           `json:"nodes"`
	Transformations []string           `json:"transformations"`
	TotalTime       int64              `json:"totalTime"`
	// Fanouts counts split, route and emit activities; Fanins counts
	// join, merge and combine.
	Fanouts int `json:"fanouts"`
	Fanins  int `json:"fanins"`
}

// TraceTokenJourney collects every activity tagged with correlationID,
// sorted by tick then seq.
func (t *Tracker) TraceTokenJourney(correlationID string) (Journey, error) {
	acts := t.Activities(correlationID)
	if len(acts) == 0 {
		return Journey{}, ErrCorrelationNotFound
	}
	slices.SortStableFunc(acts, func(a, b ir.ActivityEntry) int {
		return cmp.Or(cmp.Compare(a.Tick, b.Tick), cmp.Compare(a.Seq, b.Seq))
	})

	j := Journey{
		CorrelationID: correlationID,
		Activities:    acts,
		TotalTime:     acts[len(acts)-1].Tick - acts[0].Tick,
	}
	for _, a := range acts {
		if n := len(j.Nodes); n == 0 || j.Nodes[n-1] != a.NodeID {
			j.Nodes = append(j.Nodes, a.NodeID)
		}
		if tr := a.Metadata.String(ir.MetaTransformation); tr != "" {
			j.Transformations = append(j.Transformations, tr)
		}
		switch a.Action {
		case ir.ActionSplit, ir.ActionRoute, ir.ActionEmit:
			j.Fanouts++
		case ir.ActionJoin, ir.ActionMerge, ir.ActionCombine:
			j.Fanins++
		}
	}
	return j, nil
}
