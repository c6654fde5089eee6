package engine

import (
	"errors"
	"fmt"
)

// NodeError is a failure confined to one node.
//
// Node errors never abort a run: the failing event's produced events are
// dropped, its activities and state are kept, and the error is recorded in
// the node's error state and the ledger.
type NodeError struct {
	// Code identifies the error category.
	Code NodeErrorCode

	// NodeID is the node the failing event targeted.
	NodeID string

	// EventID and EventType identify the failing event.
	EventID   string
	EventType string

	// Tick is the simulation time of the failure.
	Tick int64

	// Err is the underlying cause.
	Err error
}

// NodeErrorCode categorizes node errors.
type NodeErrorCode string

const (
	// ErrCodeUnknownNode: the event targets a node the scenario does not declare.
	ErrCodeUnknownNode NodeErrorCode = "UNKNOWN_NODE"

	// ErrCodeUnknownNodeType: no processor is registered for the node's type.
	ErrCodeUnknownNodeType NodeErrorCode = "UNKNOWN_NODE_TYPE"

	// ErrCodeUnsupportedEvent: the processor does not handle the event type.
	ErrCodeUnsupportedEvent NodeErrorCode = "UNSUPPORTED_EVENT"

	// ErrCodeInvalidConfig: the node's configuration failed validation.
	ErrCodeInvalidConfig NodeErrorCode = "INVALID_CONFIG"

	// ErrCodeGuardFailed: a guard expression failed under strict guards.
	ErrCodeGuardFailed NodeErrorCode = "GUARD_FAILED"

	// ErrCodeUnknownOutput: an emission named an output the node does not declare.
	ErrCodeUnknownOutput NodeErrorCode = "UNKNOWN_OUTPUT"

	// ErrCodeChainLimit: a causal chain exceeded the configured maximum depth.
	ErrCodeChainLimit NodeErrorCode = "CHAIN_LIMIT"

	// ErrCodeProcessor: any other processor failure.
	ErrCodeProcessor NodeErrorCode = "PROCESSOR_ERROR"
)

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s: node %s at tick %d (event=%s %s): %v", e.Code, e.NodeID, e.Tick, e.EventID, e.EventType, e.Err)
	}
	return fmt.Sprintf("%s: node %s at tick %d: %v", e.Code, e.NodeID, e.Tick, e.Err)
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error { return e.Err }

// IsNodeError reports whether err is a *NodeError with the given code.
// Uses errors.As to handle wrapped errors.
func IsNodeError(err error, code NodeErrorCode) bool {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Code == code
	}
	return false
}

// ErrUnknownTarget is returned by Inject for an event whose target is not a
// DataSource node of the scenario.
var ErrUnknownTarget = errors.New("unknown data source")

// ErrDuplicateNode is returned by New when two nodes share an id.
var ErrDuplicateNode = errors.New("duplicate node id")
