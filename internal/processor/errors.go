package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowsim/internal/ir"
)

// Sentinel errors.
var (
	// ErrInvalidFSMConfig matches every *InvalidFSMConfigError.
	ErrInvalidFSMConfig = errors.New("invalid FSM config")

	// ErrUnknownNodeType is returned by Registry.Lookup.
	ErrUnknownNodeType = errors.New("unknown node type")
)

// UnsupportedEventError reports an event type a processor does not handle.
type UnsupportedEventError struct {
	NodeType  ir.NodeType
	NodeID    string
	EventType ir.EventType
}

func (e *UnsupportedEventError) Error() string {
	return fmt.Sprintf("%s node %s does not support event %s", e.NodeType, e.NodeID, e.EventType)
}

// InvalidFSMConfigError collects every problem found while validating an
// FSM node at SimulationStart.
type InvalidFSMConfigError struct {
	NodeID   string
	Problems []error
}

func (e *InvalidFSMConfigError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("invalid FSM config for node %s: %s", e.NodeID, strings.Join(msgs, "; "))
}

// Unwrap exposes ErrInvalidFSMConfig and the individual problems.
func (e *InvalidFSMConfigError) Unwrap() []error {
	return append([]error{ErrInvalidFSMConfig}, e.Problems...)
}

// GuardError is a failed condition or transform expression under strict
// guard mode.
type GuardError struct {
	NodeID     string
	Expression string
	Err        error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("node %s: expression %q: %v", e.NodeID, e.Expression, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }
