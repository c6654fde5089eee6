package ir

import (
	"encoding/json"
	"fmt"
)

// Ledger actions written by the built-in processors and the engine.
//
// The lineage tracker groups them: ActionSplit, ActionRoute and ActionEmit
// count as divergence; ActionJoin, ActionMerge and ActionCombine as
// convergence.
const (
	ActionSimulationStarted = "simulation_started"
	ActionEmit              = "emit"
	ActionBuffered          = "buffered"
	ActionDropped           = "dropped"
	ActionCombine           = "combine"
	ActionJoin              = "join"
	ActionMerge             = "merge"
	ActionProcessingQueued  = "processing_queued"
	ActionProcessingStarted = "processing_started"
	ActionTransform         = "transform"
	ActionRoute             = "route"
	ActionSplit             = "split"
	ActionConsume           = "consume"

	ActionTokenEnteredFSM = "token_entered_fsm"
	ActionStateTransition = "state_transition"
	ActionFSMOutput       = "fsm_output"
	ActionFSMEmitData     = "fsm_emit_data"
	ActionFSMLog          = "fsm_log"
	ActionNotification    = "notification"
	ActionVariableSet     = "variable_set"
	ActionTokenModified   = "token_modified"
	ActionTimeoutFired    = "timeout_fired"

	ActionConfigError   = "config_error"
	ActionConfigWarning = "config_warning"
	ActionNodeError     = "node_error"
	ActionGuardError    = "guard_error"
	ActionUnrouted      = "unrouted"
)

// Metadata keys used on activity entries and tokens.
const (
	MetaTokenID        = "tokenId"
	MetaParentIDs      = "parentTokenIds"
	MetaGeneration     = "generation"
	MetaTokenType      = "tokenType"
	MetaTransformation = "transformation"
	MetaOutput         = "output"
	MetaInput          = "input"
	MetaFSMCompleted   = "fsmCompleted"
	MetaFinalState     = "finalState"
	MetaTrigger        = "trigger"
	MetaExternalID     = "externalEventId"
)

// TokenActivity builds the ledger entry announcing the creation of tok.
// NodeID and Tick come from the token; Seq is left for the ledger.
func TokenActivity(nodeType NodeType, action string, tok Token, transformation string) ActivityEntry {
	meta := IRObject{
		MetaTokenID:    IRString(tok.ID),
		MetaParentIDs:  StringArray(tok.Lineage),
		MetaGeneration: IRInt(tok.Generation()),
		MetaTokenType:  IRString(tok.Type),
	}
	if transformation != "" {
		meta[MetaTransformation] = IRString(transformation)
	}
	for k, v := range tok.Metadata {
		if _, reserved := meta[k]; !reserved {
			meta[k] = CloneValue(v)
		}
	}
	return ActivityEntry{
		Tick:           tok.Timestamp,
		NodeID:         tok.SourceNodeID,
		NodeType:       nodeType,
		Action:         action,
		Value:          tok.Value.Clone(),
		CorrelationIDs: append([]string(nil), tok.CorrelationIDs...),
		Metadata:       meta,
	}
}

// UnmarshalJSON decodes an entry written by encoding/json. Value is an
// interface, so it goes through UnmarshalIRValue.
func (e *ActivityEntry) UnmarshalJSON(data []byte) error {
	type plain ActivityEntry
	var raw struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ActivityEntry(raw.plain)
	e.Value = nil
	if len(raw.Value) > 0 {
		v, err := UnmarshalIRValue(raw.Value)
		if err != nil {
			return fmt.Errorf("activity %d value: %w", e.Seq, err)
		}
		e.Value = v
	}
	return nil
}
