package ir

import "slices"

// NodeType names a processor kind in a scenario.
type NodeType string

// Built-in node types.
const (
	NodeTypeDataSource  NodeType = "DataSource"
	NodeTypeQueue       NodeType = "Queue"
	NodeTypeAggregator  NodeType = "Aggregator"
	NodeTypeProcess     NodeType = "Process"
	NodeTypeMultiplexer NodeType = "Multiplexer"
	NodeTypeSink        NodeType = "Sink"
	NodeTypeFSM         NodeType = "FSM"
)

// EventType discriminates the scheduler's event union.
type EventType string

// Event kinds understood by the scheduler and processors.
const (
	EventSimulationStart EventType = "SimulationStart"
	EventTokenArrival    EventType = "TokenArrival"
	EventTimeTimeout     EventType = "TimeTimeout"
	EventDataEmit        EventType = "DataEmit"
	EventProcessStart    EventType = "ProcessStart"
	EventProcessComplete EventType = "ProcessComplete"
	EventBufferUpdated   EventType = "BufferUpdated"
)

// Token is an immutable unit of data flowing between nodes.
//
// A token is never mutated after it is emitted; descendants reference it by
// ID through Lineage. Lineage holds the parent token ids in sorted order.
type Token struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Value          IRObject `json:"value"`
	CorrelationIDs []string `json:"correlation_ids"`
	Lineage        []string `json:"lineage"`
	Metadata       IRObject `json:"metadata,omitempty"`
	Timestamp      int64    `json:"timestamp"`
	SourceNodeID   string   `json:"source_node_id"`
}

// Generation returns the generation embedded in the token id.
func (t Token) Generation() int {
	return ParseGeneration(t.ID)
}

// ToIR renders the token as an IRObject, the shape guard expressions and
// activity values see.
func (t Token) ToIR() IRObject {
	obj := IRObject{
		"id":             IRString(t.ID),
		"type":           IRString(t.Type),
		"value":          t.Value.Clone(),
		"correlationIds": StringArray(t.CorrelationIDs),
		"lineage":        StringArray(t.Lineage),
		"timestamp":      IRInt(t.Timestamp),
		"sourceNodeId":   IRString(t.SourceNodeID),
	}
	if len(t.Metadata) > 0 {
		obj["metadata"] = t.Metadata.Clone()
	}
	return obj
}

// Event is one entry in the scheduler's queue.
//
// Token is set for TokenArrival and routed DataEmit events; Data carries the
// payload of every other kind. CausedBy holds the ID of the event whose
// processing produced this one, or the external event id for seeds.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    int64     `json:"timestamp"`
	SourceNodeID string    `json:"source_node_id,omitempty"`
	TargetNodeID string    `json:"target_node_id,omitempty"`
	Token        *Token    `json:"token,omitempty"`
	Data         IRObject  `json:"data,omitempty"`
	CausedBy     string    `json:"caused_by,omitempty"`
	Metadata     IRObject  `json:"metadata,omitempty"`
}

// ActivityEntry is one record of the append-only activity ledger.
// Seq is assigned by the ledger on append and is strictly increasing.
type ActivityEntry struct {
	Seq            int64    `json:"seq"`
	Tick           int64    `json:"tick"`
	NodeID         string   `json:"node_id"`
	NodeType       NodeType `json:"node_type"`
	Action         string   `json:"action"`
	Value          IRValue  `json:"value"`
	CorrelationIDs []string `json:"correlation_ids"`
	Metadata       IRObject `json:"metadata"`
}

// Clone returns a deep copy of e.
func (e ActivityEntry) Clone() ActivityEntry {
	if e.Value != nil {
		e.Value = CloneValue(e.Value)
	}
	if e.Metadata != nil {
		e.Metadata = e.Metadata.Clone()
	}
	if e.CorrelationIDs != nil {
		e.CorrelationIDs = append([]string(nil), e.CorrelationIDs...)
	}
	return e
}

// ToIR renders the entry for canonical serialization.
func (e ActivityEntry) ToIR() IRObject {
	value := e.Value
	if value == nil {
		value = IRNull{}
	}
	meta := e.Metadata
	if meta == nil {
		meta = IRObject{}
	}
	return IRObject{
		"seq":             IRInt(e.Seq),
		"tick":            IRInt(e.Tick),
		"node_id":         IRString(e.NodeID),
		"node_type":       IRString(e.NodeType),
		"action":          IRString(e.Action),
		"value":           value,
		"correlation_ids": StringArray(e.CorrelationIDs),
		"metadata":        meta,
	}
}

// TokenID returns the id of the token this entry created, if any.
func (e ActivityEntry) TokenID() string {
	return e.Metadata.String(MetaTokenID)
}

// ParentIDs returns the parent token ids recorded for a created token.
func (e ActivityEntry) ParentIDs() []string {
	return Strings(e.Metadata[MetaParentIDs])
}

// ExternalEvent is an event injected from outside the simulation, such as a
// processed-document notification. It seeds the named DataSource node.
type ExternalEvent struct {
	ID                 string         `yaml:"id" json:"id"`
	Timestamp          int64          `yaml:"timestamp" json:"timestamp"`
	Type               string         `yaml:"type" json:"type"`
	Data               map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
	TargetDataSourceID string         `yaml:"targetDataSourceId" json:"targetDataSourceId"`
}

// SortedUnique returns a sorted copy of ids with duplicates and empty
// strings removed.
func SortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// MergeCorrelationIDs unions the correlation ids of several tokens.
func MergeCorrelationIDs(tokens ...Token) []string {
	var all []string
	for _, t := range tokens {
		all = append(all, t.CorrelationIDs...)
	}
	return SortedUnique(all)
}
