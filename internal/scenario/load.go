package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flowsim/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Result is a loaded scenario with its advisory findings.
type Result struct {
	Scenario ir.Scenario
	Warnings []Warning
}

// Loader parses and validates scenario documents. A Loader is safe for
// concurrent use; CUE evaluation is serialised internally.
type Loader struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value

	validate *validator.Validate
}

// NewLoader compiles the embedded schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	file := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := file.Err(); err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}
	schema := file.LookupPath(cue.ParsePath("#Scenario"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Scenario: %w", err)
	}
	return &Loader{ctx: ctx, schema: schema, validate: newValidator()}, nil
}

var (
	defaultOnce   sync.Once
	defaultLoader *Loader
	defaultErr    error
)

// Default returns the shared Loader.
func Default() (*Loader, error) {
	defaultOnce.Do(func() {
		defaultLoader, defaultErr = NewLoader()
	})
	return defaultLoader, defaultErr
}

// Parse parses a YAML or JSON document with the shared Loader.
func Parse(data []byte, filename string) (*Result, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.Parse(data, filename)
}

// LoadFile reads and parses the scenario at path.
func LoadFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data, path)
}

// Validate checks an in-memory scenario with the shared Loader.
func Validate(sc ir.Scenario) ([]Warning, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.Validate(sc)
}

// Parse checks data against the schema, decodes it and validates the
// result. Shape problems stop the pipeline before decoding.
func (l *Loader) Parse(data []byte, filename string) (*Result, error) {
	verr := &ValidationError{}
	verr.Problems = l.checkShape(data, filename)
	if len(verr.Problems) > 0 {
		return nil, verr.orNil(filename)
	}

	var sc ir.Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		verr.add(CodeSyntax, "", "decode: %v", err)
		return nil, verr.orNil(filename)
	}

	warnings, err := l.Validate(sc)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.File = filename
		}
		return nil, err
	}
	for _, w := range warnings {
		slog.Debug("scenario warning", "file", filename, "code", w.Code, "path", w.Path, "message", w.Message)
	}
	return &Result{Scenario: sc, Warnings: warnings}, nil
}

// Validate runs the struct and wiring layers over sc. The error, when
// non-nil, is a *ValidationError listing every problem found.
func (l *Loader) Validate(sc ir.Scenario) ([]Warning, error) {
	verr := &ValidationError{}
	l.checkFields(sc, verr)
	checkWiring(sc, verr)
	checkNodes(sc, verr)

	warnings := advisories(sc)
	for _, c := range AnalyzeCycles(sc) {
		warnings = append(warnings, Warning{Code: WarnCycle, Message: c.Message, Cycle: c.Path})
	}
	return warnings, verr.orNil("")
}

func (l *Loader) checkShape(data []byte, filename string) []Problem {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := cueyaml.Extract(filename, data)
	if err != nil {
		return cueProblems(CodeSyntax, filename, err)
	}
	v := l.ctx.BuildFile(f)
	if err := v.Err(); err != nil {
		return cueProblems(CodeSyntax, filename, err)
	}
	if err := l.schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return cueProblems(CodeSchema, filename, err)
	}
	return nil
}

// cueProblems flattens a CUE error list, preferring positions inside the
// document over positions inside the schema.
func cueProblems(code, filename string, err error) []Problem {
	var out []Problem
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		p := Problem{Code: code, Path: strings.Join(e.Path(), "."), Message: fmt.Sprintf(format, args...)}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() == filename && pos.Line() > 0 {
				p.Line = pos.Line()
				break
			}
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, Problem{Code: code, Message: err.Error()})
	}
	return out
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (l *Loader) checkFields(sc ir.Scenario, verr *ValidationError) {
	err := l.validate.Struct(sc)
	if err == nil {
		return
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		verr.add(CodeField, "", "%v", err)
		return
	}
	for _, fe := range ves {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		verr.add(CodeField, path, "%s", constraintMessage(fe))
	}
}

func constraintMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s long", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("fails %q", fe.Tag())
	}
}
