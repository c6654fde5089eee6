// Package expr evaluates guard and transform expressions.
//
// Expressions are a restricted subset of Starlark: literals, names,
// attribute access, constant indexing, comparisons, membership, boolean
// and arithmetic operators, conditional expressions and list/tuple
// literals. Function calls, lambdas, comprehensions, dict literals and
// slices are rejected before evaluation, and every evaluation runs on a
// fresh thread with a step cap. Authors may also use the JavaScript
// spellings &&, ||, !, === and !==.
//
// The environment is an ir.IRObject whose top-level keys become the names
// visible to the expression. true, false and null are always defined.
package expr

import (
	"errors"
	"fmt"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/roach88/flowsim/internal/ir"
)

// DefaultMaxSteps bounds the work a single evaluation may do.
const DefaultMaxSteps = 10_000

// ErrRestricted reports a syntactically valid construct outside the
// allowed subset.
var ErrRestricted = errors.New("expression construct not allowed")

// Program is a parsed, checked expression ready to evaluate.
type Program struct {
	source     string
	normalized string
}

// Source returns the expression as written.
func (p *Program) Source() string { return p.source }

// Evaluator compiles and evaluates expressions. Compiled programs are
// cached by source text. An Evaluator is safe for concurrent use.
type Evaluator struct {
	maxSteps uint64

	mu    sync.Mutex
	cache map[string]*Program
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n uint64) Option {
	return func(e *Evaluator) {
		e.maxSteps = n
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		maxSteps: DefaultMaxSteps,
		cache:    make(map[string]*Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile parses and checks src, returning a cached program when the same
// source was compiled before.
func (e *Evaluator) Compile(src string) (*Program, error) {
	e.mu.Lock()
	p, ok := e.cache[src]
	e.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := Compile(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[src] = p
	e.mu.Unlock()
	return p, nil
}

// Compile parses and checks src without caching.
func Compile(src string) (*Program, error) {
	normalized := normalize(src)
	parsed, err := syntax.ParseExpr("guard", normalized, 0)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	if err := restrict(parsed); err != nil {
		return nil, fmt.Errorf("check %q: %w", src, err)
	}
	return &Program{source: src, normalized: normalized}, nil
}

// Eval evaluates src over env.
func (e *Evaluator) Eval(src string, env ir.IRObject) (ir.IRValue, error) {
	p, err := e.Compile(src)
	if err != nil {
		return nil, err
	}
	return e.Run(p, env)
}

// Truthy evaluates src over env and reports its truth value. Empty
// strings, zero, null, empty lists and empty objects are false.
func (e *Evaluator) Truthy(src string, env ir.IRObject) (bool, error) {
	p, err := e.Compile(src)
	if err != nil {
		return false, err
	}
	v, err := e.exec(p, env)
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

// Run evaluates a compiled program over env.
func (e *Evaluator) Run(p *Program, env ir.IRObject) (ir.IRValue, error) {
	v, err := e.exec(p, env)
	if err != nil {
		return nil, err
	}
	out, err := fromStarlark(v)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", p.source, err)
	}
	return out, nil
}

func (e *Evaluator) exec(p *Program, env ir.IRObject) (starlark.Value, error) {
	thread := &starlark.Thread{
		Name:  "guard",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)

	// Resolution binds identifiers in the syntax tree, so each evaluation
	// parses its own copy rather than sharing one tree across goroutines.
	v, err := starlark.Eval(thread, "guard", p.normalized, predeclared(env))
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", p.source, err)
	}
	return v, nil
}

func predeclared(env ir.IRObject) starlark.StringDict {
	globals := make(starlark.StringDict, len(env)+3)
	for k, v := range env {
		globals[k] = toStarlark(v)
	}
	globals["true"] = starlark.True
	globals["false"] = starlark.False
	globals["null"] = starlark.None
	return globals
}

// restrict walks the syntax tree and rejects anything outside the subset.
func restrict(root syntax.Expr) error {
	var err error
	syntax.Walk(root, func(n syntax.Node) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *syntax.CallExpr:
			err = fmt.Errorf("%w: function call", ErrRestricted)
		case *syntax.LambdaExpr:
			err = fmt.Errorf("%w: lambda", ErrRestricted)
		case *syntax.Comprehension:
			err = fmt.Errorf("%w: comprehension", ErrRestricted)
		case *syntax.DictExpr:
			err = fmt.Errorf("%w: dict literal", ErrRestricted)
		case *syntax.SliceExpr:
			err = fmt.Errorf("%w: slice", ErrRestricted)
		case *syntax.IndexExpr:
			if !isConstant(n.Y) {
				err = fmt.Errorf("%w: index must be a constant", ErrRestricted)
			}
		}
		return err == nil
	})
	return err
}

func isConstant(e syntax.Expr) bool {
	switch e := e.(type) {
	case *syntax.Literal:
		return true
	case *syntax.ParenExpr:
		return isConstant(e.X)
	case *syntax.UnaryExpr:
		return e.Op == syntax.MINUS && isConstant(e.X)
	}
	return false
}
