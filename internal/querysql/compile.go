// Package querysql compiles ledger queries to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/queryir"
)

// Columns is the select list every compiled query returns, in scan order.
const Columns = "seq, tick, node_id, node_type, action, value, correlation_ids, metadata"

// Compile converts q to SQL and its parameters. Every query is ordered by
// seq, and every literal is a parameter.
func Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}
	var sel queryir.Select
	switch q := q.(type) {
	case queryir.Select:
		sel = q
	case *queryir.Select:
		sel = *q
	}

	c := &compiler{}
	where := "execution_id = ?"
	c.params = append(c.params, sel.Execution)
	if sel.Filter != nil {
		where += " AND " + c.predicate(sel.Filter)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM activities WHERE %s ORDER BY seq ASC", Columns, where)
	if sel.Limit > 0 {
		b.WriteString(" LIMIT ?")
		c.params = append(c.params, sel.Limit)
	}
	return b.String(), c.params, nil
}

type compiler struct {
	params []any
}

// predicate renders p. Field names come from the validated set, so they
// are safe to inline.
func (c *compiler) predicate(p queryir.Predicate) string {
	switch p := p.(type) {
	case queryir.Equals:
		return c.equals(p)
	case *queryir.Equals:
		return c.equals(*p)
	case queryir.In:
		return c.in(p)
	case *queryir.In:
		return c.in(*p)
	case queryir.Between:
		return c.between(p)
	case *queryir.Between:
		return c.between(*p)
	case queryir.HasCorrelation:
		return c.correlation(p)
	case *queryir.HasCorrelation:
		return c.correlation(*p)
	case queryir.And:
		return c.and(p)
	case *queryir.And:
		return c.and(*p)
	}
	// Validate rejects every other type.
	panic(fmt.Sprintf("querysql: unexpected predicate %T", p))
}

func (c *compiler) equals(p queryir.Equals) string {
	c.params = append(c.params, literal(p.Value))
	return string(p.Field) + " = ?"
}

func (c *compiler) in(p queryir.In) string {
	if len(p.Values) == 0 {
		return "0"
	}
	marks := make([]string, len(p.Values))
	for i, v := range p.Values {
		marks[i] = "?"
		c.params = append(c.params, literal(v))
	}
	return fmt.Sprintf("%s IN (%s)", p.Field, strings.Join(marks, ", "))
}

func (c *compiler) between(p queryir.Between) string {
	var parts []string
	if p.Min != nil {
		parts = append(parts, string(p.Field)+" >= ?")
		c.params = append(c.params, *p.Min)
	}
	if p.Max != nil {
		parts = append(parts, string(p.Field)+" <= ?")
		c.params = append(c.params, *p.Max)
	}
	if len(parts) == 0 {
		return "1"
	}
	return strings.Join(parts, " AND ")
}

func (c *compiler) correlation(p queryir.HasCorrelation) string {
	c.params = append(c.params, p.ID)
	return "EXISTS (SELECT 1 FROM json_each(activities.correlation_ids) WHERE json_each.value = ?)"
}

func (c *compiler) and(p queryir.And) string {
	if len(p.Predicates) == 0 {
		return "1"
	}
	parts := make([]string, len(p.Predicates))
	for i, sub := range p.Predicates {
		parts[i] = c.predicate(sub)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func literal(v ir.IRValue) any {
	switch v := v.(type) {
	case ir.IRInt:
		return int64(v)
	case ir.IRString:
		return string(v)
	}
	return nil
}
