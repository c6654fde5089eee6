package lineage

import (
	"slices"
)

// Direction names the edge set a traversal follows.
type Direction string

const (
	Ancestors   Direction = "ancestors"
	Descendants Direction = "descendants"
)

// Node is one token in an ancestry tree. A token reachable along two
// branches appears once per branch.
type Node struct {
	Token       TokenRecord `json:"token"`
	Ancestors   []*Node     `json:"ancestors,omitempty"`
	Descendants []*Node     `json:"descendants,omitempty"`
}

// CycleDetected records a branch cut short because it reached a token
// already on its own path. Path runs from the tree root to the repeated id.
type CycleDetected struct {
	Direction Direction `json:"direction"`
	Path      []string  `json:"path"`
}

// Tree is the result of BuildAncestryTree.
type Tree struct {
	Root *Node `json:"root"`
	// TotalAncestors and TotalDescendants count distinct tokens reachable
	// along parent and child edges, excluding the root.
	TotalAncestors   int             `json:"totalAncestors"`
	TotalDescendants int             `json:"totalDescendants"`
	Cycles           []CycleDetected `json:"cycles,omitempty"`
}

// CycleDetected reports whether any branch was cut by a cycle.
func (tr *Tree) CycleDetected() bool { return len(tr.Cycles) > 0 }

// BuildAncestryTree walks parent and child edges out from tokenID.
//
// The visited set is per branch: a token seen on a sibling branch is
// expanded again, a token already on the current path yields a nil
// sub-branch and a CycleDetected record.
func (t *Tracker) BuildAncestryTree(tokenID string) (*Tree, error) {
	rec, ok := t.tokens[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	tr := &Tree{Root: &Node{Token: cloneRecord(rec)}}

	up := map[string]bool{}
	tr.Root.Ancestors = t.branch(tr, Ancestors, t.parents, []string{tokenID}, up)
	tr.TotalAncestors = len(up)

	down := map[string]bool{}
	tr.Root.Descendants = t.branch(tr, Descendants, t.children, []string{tokenID}, down)
	tr.TotalDescendants = len(down)
	return tr, nil
}

// branch expands the last id on path along edges. reached collects every
// distinct id expanded below the root.
func (t *Tracker) branch(tr *Tree, dir Direction, edges map[string][]string, path []string, reached map[string]bool) []*Node {
	id := path[len(path)-1]
	var out []*Node
	for _, next := range edges[id] {
		sub := t.expand(tr, dir, edges, append(slices.Clip(path), next), reached)
		if sub != nil {
			out = append(out, sub)
		}
	}
	return out
}

func (t *Tracker) expand(tr *Tree, dir Direction, edges map[string][]string, path []string, reached map[string]bool) *Node {
	id := path[len(path)-1]
	if slices.Contains(path[:len(path)-1], id) {
		tr.Cycles = append(tr.Cycles, CycleDetected{Direction: dir, Path: slices.Clone(path)})
		return nil
	}
	if id != path[0] {
		reached[id] = true
	}
	n := &Node{Token: cloneRecord(t.tokens[id])}
	sub := t.branch(tr, dir, edges, path, reached)
	if dir == Ancestors {
		n.Ancestors = sub
	} else {
		n.Descendants = sub
	}
	return n
}

// Descendants returns the distinct tokens reachable from id along child
// edges, in breadth-first order.
func (t *Tracker) Descendants(id string) ([]string, error) {
	return t.reach(id, t.children)
}

// Ancestors returns the distinct tokens reachable from id along parent
// edges, in breadth-first order.
func (t *Tracker) Ancestors(id string) ([]string, error) {
	return t.reach(id, t.parents)
}

func (t *Tracker) reach(id string, edges map[string][]string) ([]string, error) {
	if _, ok := t.tokens[id]; !ok {
		return nil, ErrTokenNotFound
	}
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edges[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out, nil
}
