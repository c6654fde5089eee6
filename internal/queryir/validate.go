package queryir

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/flowsim/internal/ir"
)

// ErrInvalidQuery wraps every validation failure.
var ErrInvalidQuery = errors.New("queryir: invalid query")

// Validate checks that q only names known fields and that every literal
// has the field's type. It returns all problems joined.
func Validate(q Query) error {
	v := &validator{}
	v.query(q)
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidQuery, errors.Join(v.errs...))
}

type validator struct {
	errs []error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) query(q Query) {
	switch q := q.(type) {
	case Select:
		v.sel(q)
	case *Select:
		if q == nil {
			v.fail("nil select")
			return
		}
		v.sel(*q)
	case nil:
		v.fail("nil query")
	default:
		v.fail("unknown query type %T", q)
	}
}

func (v *validator) sel(s Select) {
	if s.Execution == "" {
		v.fail("select: execution is required")
	}
	if s.Limit < 0 {
		v.fail("select: limit %d is negative", s.Limit)
	}
	if s.Filter != nil {
		v.predicate(s.Filter)
	}
}

func (v *validator) predicate(p Predicate) {
	switch p := p.(type) {
	case Equals:
		v.literal(p.Field, p.Value)
	case *Equals:
		v.literal(p.Field, p.Value)
	case In:
		v.in(p)
	case *In:
		v.in(*p)
	case Between:
		v.between(p)
	case *Between:
		v.between(*p)
	case HasCorrelation:
		v.correlation(p)
	case *HasCorrelation:
		v.correlation(*p)
	case And:
		v.and(p)
	case *And:
		v.and(*p)
	default:
		v.fail("unknown predicate type %T", p)
	}
}

func (v *validator) field(f Field) bool {
	if !slices.Contains(Fields, f) {
		v.fail("unknown field %q", f)
		return false
	}
	return true
}

func (v *validator) literal(f Field, val ir.IRValue) {
	if !v.field(f) {
		return
	}
	switch val.(type) {
	case ir.IRInt:
		if !f.Numeric() {
			v.fail("field %s compared to an integer", f)
		}
	case ir.IRString:
		if f.Numeric() {
			v.fail("field %s compared to a string", f)
		}
	default:
		v.fail("field %s compared to unsupported value %T", f, val)
	}
}

func (v *validator) in(p In) {
	for _, val := range p.Values {
		v.literal(p.Field, val)
	}
}

func (v *validator) between(p Between) {
	if !v.field(p.Field) {
		return
	}
	if !p.Field.Numeric() {
		v.fail("range on non-numeric field %s", p.Field)
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		v.fail("empty range on %s: %d > %d", p.Field, *p.Min, *p.Max)
	}
}

func (v *validator) correlation(p HasCorrelation) {
	if p.ID == "" {
		v.fail("correlation id is empty")
	}
}

func (v *validator) and(p And) {
	for _, sub := range p.Predicates {
		v.predicate(sub)
	}
}
