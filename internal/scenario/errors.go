package scenario

import (
	"fmt"
	"strings"
)

// Problem codes.
const (
	CodeSyntax          = "E100" // document is not valid YAML/JSON
	CodeSchema          = "E101" // shape does not match the scenario schema
	CodeField           = "E102" // struct constraint failed
	CodeDuplicateNode   = "E103" // two nodes share an id
	CodeDuplicatePort   = "E104" // two ports on one node share a name
	CodeDanglingPort    = "E105" // port refers to a node that does not exist
	CodeWiringMismatch  = "E106" // two ends of a connection disagree
	CodeSectionMismatch = "E107" // typed section does not match the node type
	CodeUnknownOutput   = "E109" // route names an output the node lacks
	CodeSourceInput     = "E110" // DataSource with inputs
	CodeFSM             = "E111" // FSM definition the FSM processor rejects
	CodeEvent           = "E120" // external event is malformed
)

// Problem is one finding of validation.
type Problem struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (p Problem) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", p.Code)
	if p.Line > 0 {
		fmt.Fprintf(&b, " line %d:", p.Line)
	}
	if p.Path != "" {
		fmt.Fprintf(&b, " %s:", p.Path)
	}
	b.WriteString(" ")
	b.WriteString(p.Message)
	return b.String()
}

// ValidationError carries every problem found in a document.
type ValidationError struct {
	File     string    `json:"file,omitempty"`
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	prefix := "invalid scenario"
	if e.File != "" {
		prefix = e.File
	}
	if len(e.Problems) == 1 {
		return prefix + ": " + e.Problems[0].String()
	}
	lines := make([]string, 0, len(e.Problems)+1)
	lines = append(lines, fmt.Sprintf("%s: %d problems", prefix, len(e.Problems)))
	for _, p := range e.Problems {
		lines = append(lines, "  "+p.String())
	}
	return strings.Join(lines, "\n")
}

// Has reports whether any problem carries code.
func (e *ValidationError) Has(code string) bool {
	for _, p := range e.Problems {
		if p.Code == code {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(code, path, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Code: code, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil(file string) error {
	if len(e.Problems) == 0 {
		return nil
	}
	e.File = file
	return e
}
