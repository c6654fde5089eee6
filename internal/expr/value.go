package expr

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"

	"github.com/roach88/flowsim/internal/ir"
)

// object exposes an ir.IRObject to guard code. Fields are reachable as
// attributes (value.amount) and by constant index (value["amount"]);
// "k in value" tests membership. A missing attribute reads as null rather
// than failing, so "value.note == null" works on tokens without a note.
type object struct {
	fields ir.IRObject
}

var (
	_ starlark.HasAttrs = (*object)(nil)
	_ starlark.Mapping  = (*object)(nil)
)

func (o *object) String() string {
	data, err := ir.MarshalCanonical(o.fields)
	if err != nil {
		return "{...}"
	}
	return string(data)
}

func (o *object) Type() string          { return "object" }
func (o *object) Freeze()               {}
func (o *object) Truth() starlark.Bool  { return len(o.fields) > 0 }
func (o *object) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: object") }

func (o *object) Attr(name string) (starlark.Value, error) {
	v, ok := o.fields[name]
	if !ok {
		return starlark.None, nil
	}
	return toStarlark(v), nil
}

func (o *object) AttrNames() []string {
	names := make([]string, 0, len(o.fields))
	for k := range o.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (o *object) Get(k starlark.Value) (starlark.Value, bool, error) {
	key, ok := k.(starlark.String)
	if !ok {
		return nil, false, fmt.Errorf("object key must be a string, got %s", k.Type())
	}
	v, found := o.fields[string(key)]
	if !found {
		return nil, false, nil
	}
	return toStarlark(v), true, nil
}

func toStarlark(v ir.IRValue) starlark.Value {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return starlark.None
	case ir.IRString:
		return starlark.String(val)
	case ir.IRInt:
		return starlark.MakeInt64(int64(val))
	case ir.IRBool:
		return starlark.Bool(val)
	case ir.IRArray:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			elems[i] = toStarlark(e)
		}
		return starlark.NewList(elems)
	case ir.IRObject:
		return &object{fields: val}
	}
	return starlark.None
}

func fromStarlark(v starlark.Value) (ir.IRValue, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return ir.IRNull{}, nil
	case starlark.Bool:
		return ir.IRBool(val), nil
	case starlark.Int:
		n, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer out of range: %s", val)
		}
		return ir.IRInt(n), nil
	case starlark.Float:
		f := float64(val)
		if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("non-integer result %v: use // for integer division", f)
		}
		return ir.IRInt(int64(f)), nil
	case starlark.String:
		return ir.IRString(val), nil
	case *starlark.List:
		return fromIndexable(val)
	case starlark.Tuple:
		return fromIndexable(val)
	case *object:
		return val.fields.Clone(), nil
	}
	return nil, fmt.Errorf("unsupported result type %s", v.Type())
}

func fromIndexable(seq starlark.Indexable) (ir.IRValue, error) {
	out := make(ir.IRArray, seq.Len())
	for i := range out {
		e, err := fromStarlark(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}
