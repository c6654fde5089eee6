package expr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/ir"
)

func env() ir.IRObject {
	return ir.IRObject{
		"value": ir.IRObject{
			"amount":   ir.IRInt(1500),
			"status":   ir.IRString("pending"),
			"urgent":   ir.IRBool(true),
			"tags":     ir.IRArray{ir.IRString("vip"), ir.IRString("eu")},
			"customer": ir.IRObject{"tier": ir.IRString("gold")},
		},
		"amount":    ir.IRInt(1500),
		"state":     ir.IRString("review"),
		"tick":      ir.IRInt(12),
		"variables": ir.IRObject{"attempts": ir.IRInt(2)},
	}
}

func TestTruthy(t *testing.T) {
	e := New()
	tests := []struct {
		src  string
		want bool
	}{
		{"value.amount > 1000", true},
		{"amount <= 1000", false},
		{"value.status == 'pending'", true},
		{"value.status === \"pending\"", true},
		{"value.status !== 'pending'", false},
		{"value.urgent && value.amount > 100", true},
		{"!value.urgent || state == 'review'", true},
		{"!value.urgent", false},
		{"'vip' in value.tags", true},
		{"'status' in value", true},
		{"'missing' in value", false},
		{"value.customer.tier == 'gold'", true},
		{"value['customer']['tier'] == 'gold'", true},
		{"value.tags[0] == 'vip'", true},
		{"value.tags[-1] == 'eu'", true},
		{"value.note == null", true},
		{"variables.attempts < 3 and tick >= 10", true},
		{"state in ['review', 'draft']", true},
		{"true if amount > 10 else false", true},
		{"''", false},
		{"0", false},
		{"[]", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Truthy(tt.src, env())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalValues(t *testing.T) {
	e := New()
	tests := []struct {
		src  string
		want ir.IRValue
	}{
		{"amount * 2", ir.IRInt(3000)},
		{"amount // 7", ir.IRInt(214)},
		{"amount / 3", ir.IRInt(500)},
		{"value.status + '-checked'", ir.IRString("pending-checked")},
		{"value.tags", ir.IRArray{ir.IRString("vip"), ir.IRString("eu")}},
		{"value.customer", ir.IRObject{"tier": ir.IRString("gold")}},
		{"(1, 'a')", ir.IRArray{ir.IRInt(1), ir.IRString("a")}},
		{"null", ir.IRNull{}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Eval(tt.src, env())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalRejectsFractionalResult(t *testing.T) {
	_, err := New().Eval("amount / 7", env())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-integer")
}

func TestCompileRejectsRestrictedConstructs(t *testing.T) {
	for _, src := range []string{
		"len(value.tags)",
		"value.status.upper()",
		"lambda x: x",
		"[x for x in value.tags]",
		"{'a': 1}",
		"value.tags[0:1]",
		"value.tags[amount]",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRestricted)
		})
	}
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("amount >")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRestricted)
}

func TestEvalRuntimeErrors(t *testing.T) {
	e := New()
	for _, src := range []string{
		"undefined_name > 1",
		"value['missing'] == 1",
		"value.status > 3",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := e.Truthy(src, env())
			assert.Error(t, err)
		})
	}
}

func TestStepLimit(t *testing.T) {
	e := New(WithMaxSteps(3))
	_, err := e.Truthy("amount > 1 and amount > 2 and amount > 3 and amount > 4 and amount > 5", env())
	require.Error(t, err)
}

func TestNormalizeLeavesStringsAlone(t *testing.T) {
	assert.Equal(t, "a and b", normalize("a&&b"))
	assert.Equal(t, "a or b", normalize("a||b"))
	assert.Equal(t, `x == "a && !b"`, normalize(`x === "a && !b"`))
	assert.Equal(t, `x != 'it\'s ||'`, normalize(`x !== 'it\'s ||'`))
	assert.Equal(t, " not x", normalize("!x"))
}

func TestEvaluatorConcurrentUse(t *testing.T) {
	e := New()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := ir.IRObject{"n": ir.IRInt(int64(i))}
			for range 50 {
				got, err := e.Eval("n * 2", env)
				assert.NoError(t, err)
				assert.Equal(t, ir.IRInt(int64(i*2)), got)
			}
		}()
	}
	wg.Wait()
}
