package lineage

import (
	"errors"
	"slices"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/ledger"
)

var (
	// ErrTokenNotFound is returned when a token id never appears in the ledger.
	ErrTokenNotFound = errors.New("lineage: token not found")

	// ErrCorrelationNotFound is returned when no activity carries a correlation id.
	ErrCorrelationNotFound = errors.New("lineage: correlation id not found")
)

// TokenRecord is what the ledger says about one token: the first entry
// that carried its id.
type TokenRecord struct {
	ID             string      `json:"id"`
	Type           string      `json:"type,omitempty"`
	NodeID         string      `json:"nodeId,omitempty"`
	NodeType       ir.NodeType `json:"nodeType,omitempty"`
	Action         string      `json:"action,omitempty"`
	Tick           int64       `json:"tick"`
	Seq            int64       `json:"seq"`
	Generation     int         `json:"generation"`
	Parents        []string    `json:"parents"`
	CorrelationIDs []string    `json:"correlationIds"`
	Transformation string      `json:"transformation,omitempty"`
	// Missing marks a parent referenced by some entry but never recorded.
	Missing bool `json:"missing,omitempty"`
}

// Tracker indexes a ledger by token and correlation id.
type Tracker struct {
	tokens   map[string]*TokenRecord
	order    []string
	children map[string][]string
	parents  map[string][]string
	byCorr   map[string][]ir.ActivityEntry
	corrs    []string
}

// FromLedger indexes every entry currently in l.
func FromLedger(l *ledger.Ledger) *Tracker {
	return New(l.Entries())
}

// New indexes entries. Entries are expected in seq order; the first entry
// naming a token defines its record, later ones may only add parents.
func New(entries []ir.ActivityEntry) *Tracker {
	t := &Tracker{
		tokens:   map[string]*TokenRecord{},
		children: map[string][]string{},
		parents:  map[string][]string{},
		byCorr:   map[string][]ir.ActivityEntry{},
	}
	for _, e := range entries {
		t.indexCorrelation(e)
		id := e.TokenID()
		if id == "" {
			continue
		}
		rec, seen := t.tokens[id]
		if !seen || rec.Missing {
			t.record(id, e)
		}
		for _, p := range e.ParentIDs() {
			t.link(p, id)
		}
	}
	return t
}

func (t *Tracker) record(id string, e ir.ActivityEntry) {
	rec := &TokenRecord{
		ID:             id,
		Type:           e.Metadata.String(ir.MetaTokenType),
		NodeID:         e.NodeID,
		NodeType:       e.NodeType,
		Action:         e.Action,
		Tick:           e.Tick,
		Seq:            e.Seq,
		Generation:     ir.ParseGeneration(id),
		CorrelationIDs: slices.Clone(e.CorrelationIDs),
		Transformation: e.Metadata.String(ir.MetaTransformation),
	}
	if old, ok := t.tokens[id]; ok {
		rec.Parents = old.Parents
	} else {
		t.order = append(t.order, id)
	}
	t.tokens[id] = rec
}

func (t *Tracker) link(parent, child string) {
	if parent == "" {
		return
	}
	if _, ok := t.tokens[parent]; !ok {
		t.tokens[parent] = &TokenRecord{ID: parent, Generation: ir.ParseGeneration(parent), Missing: true}
		t.order = append(t.order, parent)
	}
	if slices.Contains(t.children[parent], child) {
		return
	}
	t.children[parent] = append(t.children[parent], child)
	t.parents[child] = append(t.parents[child], parent)
	t.tokens[child].Parents = append(t.tokens[child].Parents, parent)
}

func (t *Tracker) indexCorrelation(e ir.ActivityEntry) {
	for _, c := range ir.SortedUnique(e.CorrelationIDs) {
		if _, ok := t.byCorr[c]; !ok {
			t.corrs = append(t.corrs, c)
		}
		t.byCorr[c] = append(t.byCorr[c], e)
	}
}

// Token returns the record for id.
func (t *Tracker) Token(id string) (TokenRecord, error) {
	rec, ok := t.tokens[id]
	if !ok {
		return TokenRecord{}, ErrTokenNotFound
	}
	return cloneRecord(rec), nil
}

// Tokens returns every token in the order the ledger first mentioned it.
func (t *Tracker) Tokens() []TokenRecord {
	out := make([]TokenRecord, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, cloneRecord(t.tokens[id]))
	}
	return out
}

// Children returns the direct descendants of id.
func (t *Tracker) Children(id string) []string { return slices.Clone(t.children[id]) }

// Parents returns the direct ancestors of id.
func (t *Tracker) Parents(id string) []string { return slices.Clone(t.parents[id]) }

// Correlations lists correlation ids in first-seen order.
func (t *Tracker) Correlations() []string { return slices.Clone(t.corrs) }

// Activities returns every entry tagged with correlation id c, in ledger order.
func (t *Tracker) Activities(c string) []ir.ActivityEntry {
	return slices.Clone(t.byCorr[c])
}

func cloneRecord(r *TokenRecord) TokenRecord {
	out := *r
	out.Parents = slices.Clone(r.Parents)
	out.CorrelationIDs = slices.Clone(r.CorrelationIDs)
	return out
}
