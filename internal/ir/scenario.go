package ir

// Scenario is the static, authored description of a node network.
// Scenario documents use camelCase keys; they are written by people and
// tools outside the engine.
type Scenario struct {
	Name        string         `yaml:"name" json:"name" validate:"required"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Globals     map[string]any `yaml:"globals,omitempty" json:"globals,omitempty"`
	Nodes       []NodeConfig   `yaml:"nodes" json:"nodes" validate:"required,min=1,dive"`
}

// Node returns the node with the given id.
func (s *Scenario) Node(id string) (NodeConfig, bool) {
	for _, n := range s.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// NodeConfig describes one node. Exactly one of the typed sections is
// expected to be set, matching Type; a node without its section runs with
// that processor's defaults.
type NodeConfig struct {
	NodeID      string       `yaml:"nodeId" json:"nodeId" validate:"required,max=128"`
	Type        NodeType     `yaml:"type" json:"type" validate:"required"`
	DisplayName string       `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Inputs      []InputPort  `yaml:"inputs,omitempty" json:"inputs,omitempty" validate:"dive"`
	Outputs     []OutputPort `yaml:"outputs,omitempty" json:"outputs,omitempty" validate:"dive"`
	Position    *Position    `yaml:"position,omitempty" json:"position,omitempty"`

	Source      *DataSourceConfig  `yaml:"source,omitempty" json:"source,omitempty"`
	Queue       *QueueConfig       `yaml:"queue,omitempty" json:"queue,omitempty"`
	Process     *ProcessConfig     `yaml:"process,omitempty" json:"process,omitempty"`
	Multiplexer *MultiplexerConfig `yaml:"multiplexer,omitempty" json:"multiplexer,omitempty"`
	Sink        *SinkConfig        `yaml:"sink,omitempty" json:"sink,omitempty"`
	FSM         *FSMConfig         `yaml:"fsm,omitempty" json:"fsm,omitempty"`
}

// Output returns the named output port.
func (n NodeConfig) Output(name string) (OutputPort, bool) {
	for _, o := range n.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return OutputPort{}, false
}

// InputPort is the receiving end of a connection.
// NodeID/SourceOutputName point back at the producing node's output.
type InputPort struct {
	Name             string `yaml:"name" json:"name" validate:"required"`
	NodeID           string `yaml:"nodeId" json:"nodeId" validate:"required"`
	SourceOutputName string `yaml:"sourceOutputName" json:"sourceOutputName" validate:"required"`
}

// OutputPort is the sending end of a connection.
type OutputPort struct {
	Name                 string `yaml:"name" json:"name" validate:"required"`
	DestinationNodeID    string `yaml:"destinationNodeId" json:"destinationNodeId" validate:"required"`
	DestinationInputName string `yaml:"destinationInputName" json:"destinationInputName" validate:"required"`
}

// Position is the canvas location of a node; the engine ignores it.
type Position struct {
	X int64 `yaml:"x" json:"x"`
	Y int64 `yaml:"y" json:"y"`
}

// DataSourceConfig configures a DataSource node.
//
// Interval > 0 turns on periodic generation: Count tokens (0 = unbounded
// until the run's tick budget) built from Value, the first at Start.
type DataSourceConfig struct {
	TokenType        string         `yaml:"tokenType,omitempty" json:"tokenType,omitempty"`
	Interval         int64          `yaml:"interval,omitempty" json:"interval,omitempty" validate:"gte=0"`
	Count            int            `yaml:"count,omitempty" json:"count,omitempty" validate:"gte=0"`
	Start            int64          `yaml:"start,omitempty" json:"start,omitempty" validate:"gte=0"`
	Value            map[string]any `yaml:"value,omitempty" json:"value,omitempty"`
	CorrelationField string         `yaml:"correlationField,omitempty" json:"correlationField,omitempty"`
}

// Queue trigger policies.
const (
	TriggerCount = "count"
	TriggerTime  = "time"
)

// Aggregation methods.
const (
	AggregateCollect = "collect"
	AggregateSum     = "sum"
	AggregateCount   = "count"
	AggregateFirst   = "first"
	AggregateLast    = "last"
	AggregateAverage = "average"
	AggregateMin     = "min"
	AggregateMax     = "max"
)

// QueueConfig configures a Queue/Aggregator node.
type QueueConfig struct {
	Capacity  int           `yaml:"capacity,omitempty" json:"capacity,omitempty" validate:"gte=0"`
	Trigger   TriggerConfig `yaml:"trigger" json:"trigger"`
	Method    string        `yaml:"method,omitempty" json:"method,omitempty" validate:"omitempty,oneof=collect sum count first last average min max"`
	Field     string        `yaml:"field,omitempty" json:"field,omitempty"`
	TokenType string        `yaml:"tokenType,omitempty" json:"tokenType,omitempty"`
}

// TriggerConfig decides when a queue flushes its buffer.
type TriggerConfig struct {
	Type   string `yaml:"type" json:"type" validate:"omitempty,oneof=count time"`
	Size   int    `yaml:"size,omitempty" json:"size,omitempty" validate:"gte=0"`
	Window int64  `yaml:"window,omitempty" json:"window,omitempty" validate:"gte=0"`
}

// ProcessConfig configures a Process node.
//
// Transform maps an output field to a guard-language expression evaluated
// over the incoming token; the result is merged into the token value.
type ProcessConfig struct {
	Duration  int64             `yaml:"duration,omitempty" json:"duration,omitempty" validate:"gte=0"`
	Jitter    int64             `yaml:"jitter,omitempty" json:"jitter,omitempty" validate:"gte=0"`
	Capacity  int               `yaml:"capacity,omitempty" json:"capacity,omitempty" validate:"gte=0"`
	Transform map[string]string `yaml:"transform,omitempty" json:"transform,omitempty"`
	TokenType string            `yaml:"tokenType,omitempty" json:"tokenType,omitempty"`
}

// Multiplexer strategies.
const (
	StrategyBroadcast  = "broadcast"
	StrategyRoundRobin = "round_robin"
	StrategyCondition  = "condition"
)

// MultiplexerConfig configures a Multiplexer node.
type MultiplexerConfig struct {
	Strategy      string        `yaml:"strategy,omitempty" json:"strategy,omitempty" validate:"omitempty,oneof=broadcast round_robin condition"`
	Routes        []RouteConfig `yaml:"routes,omitempty" json:"routes,omitempty" validate:"dive"`
	DefaultOutput string        `yaml:"defaultOutput,omitempty" json:"defaultOutput,omitempty"`
}

// RouteConfig sends tokens satisfying Condition to Output.
type RouteConfig struct {
	Output    string `yaml:"output" json:"output" validate:"required"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// SinkConfig configures a Sink node. Retain bounds the recent-token list
// kept for display (default 10).
type SinkConfig struct {
	Retain int `yaml:"retain,omitempty" json:"retain,omitempty" validate:"gte=0"`
}
