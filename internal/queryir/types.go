package queryir

import "github.com/roach88/flowsim/internal/ir"

// Query selects activity entries.
type Query interface {
	queryNode()
}

// Predicate filters activity entries.
type Predicate interface {
	predicateNode()
}

// Field names an activity column a predicate can test.
type Field string

const (
	FieldNodeID   Field = "node_id"
	FieldNodeType Field = "node_type"
	FieldAction   Field = "action"
	FieldTick     Field = "tick"
	FieldSeq      Field = "seq"
)

// Fields lists every queryable field.
var Fields = []Field{FieldNodeID, FieldNodeType, FieldAction, FieldTick, FieldSeq}

// Numeric reports whether f holds integers.
func (f Field) Numeric() bool { return f == FieldTick || f == FieldSeq }

// Select reads the activities of one execution.
//
//	SELECT ... FROM activities
//	WHERE execution_id = <Execution> AND <Filter>
//	ORDER BY seq LIMIT <Limit>
type Select struct {
	Execution string
	Filter    Predicate // nil selects every entry
	Limit     int       // 0 means no limit
}

func (Select) queryNode() {}

// Equals matches entries whose field equals Value. String fields take an
// ir.IRString, numeric fields an ir.IRInt.
type Equals struct {
	Field Field
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// In matches entries whose field equals any of Values. An empty list
// matches nothing.
type In struct {
	Field  Field
	Values []ir.IRValue
}

func (In) predicateNode() {}

// Between matches entries whose numeric field lies in [Min, Max]. A nil
// bound is open.
type Between struct {
	Field Field
	Min   *int64
	Max   *int64
}

func (Between) predicateNode() {}

// HasCorrelation matches entries tagged with the correlation id.
type HasCorrelation struct {
	ID string
}

func (HasCorrelation) predicateNode() {}

// And matches entries satisfying every predicate. An empty And matches
// everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Filter collects the common ledger filters. Zero-valued fields are not
// applied.
type Filter struct {
	NodeID      string
	NodeType    ir.NodeType
	Actions     []string
	Correlation string
	FromTick    *int64
	ToTick      *int64
}

// Predicate builds the conjunction of the set fields, or nil when no field
// is set.
func (f Filter) Predicate() Predicate {
	var preds []Predicate
	if f.NodeID != "" {
		preds = append(preds, Equals{Field: FieldNodeID, Value: ir.IRString(f.NodeID)})
	}
	if f.NodeType != "" {
		preds = append(preds, Equals{Field: FieldNodeType, Value: ir.IRString(f.NodeType)})
	}
	switch len(f.Actions) {
	case 0:
	case 1:
		preds = append(preds, Equals{Field: FieldAction, Value: ir.IRString(f.Actions[0])})
	default:
		vals := make([]ir.IRValue, len(f.Actions))
		for i, a := range f.Actions {
			vals[i] = ir.IRString(a)
		}
		preds = append(preds, In{Field: FieldAction, Values: vals})
	}
	if f.Correlation != "" {
		preds = append(preds, HasCorrelation{ID: f.Correlation})
	}
	if f.FromTick != nil || f.ToTick != nil {
		preds = append(preds, Between{Field: FieldTick, Min: f.FromTick, Max: f.ToTick})
	}
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return And{Predicates: preds}
}
