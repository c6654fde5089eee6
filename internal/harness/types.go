package harness

import (
	"github.com/roach88/flowsim/internal/ir"
)

// TraceEvent is one ledger entry as seen by assertions.
type TraceEvent struct {
	Seq            int64      `json:"seq"`
	Tick           int64      `json:"tick"`
	NodeID         string     `json:"node_id,omitempty"`
	NodeType       string     `json:"node_type,omitempty"`
	Action         string     `json:"action"`
	TokenID        string     `json:"token_id,omitempty"`
	Value          ir.IRValue `json:"value,omitempty"`
	CorrelationIDs []string   `json:"correlation_ids,omitempty"`
}

func traceOf(entries []ir.ActivityEntry) []TraceEvent {
	out := make([]TraceEvent, len(entries))
	for i, e := range entries {
		out[i] = TraceEvent{
			Seq:            e.Seq,
			Tick:           e.Tick,
			NodeID:         e.NodeID,
			NodeType:       string(e.NodeType),
			Action:         e.Action,
			TokenID:        e.TokenID(),
			Value:          e.Value,
			CorrelationIDs: e.CorrelationIDs,
		}
	}
	return out
}

// Result is the outcome of running one case.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Outcome string `json:"outcome"`
	Steps   int64  `json:"steps"`
	Tick    int64  `json:"tick"`
	Digest  string `json:"digest"`

	// Trace is the ledger read back from the store.
	Trace []TraceEvent `json:"trace"`

	// NodeStates is the final state snapshot per node.
	NodeStates map[string]ir.IRObject `json:"node_states,omitempty"`

	// NodeErrors lists recorded node errors as "node: CODE".
	NodeErrors []string `json:"node_errors,omitempty"`

	// Warnings are the scenario loader's advisory findings.
	Warnings []string `json:"warnings,omitempty"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		NodeStates: map[string]ir.IRObject{},
		Errors:     []string{},
	}
}

// AddError records a failed assertion.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
