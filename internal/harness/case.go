package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/scenario"
)

// Case is one conformance case.
type Case struct {
	// Name identifies the case and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the case checks.
	Description string `yaml:"description"`

	// Scenario is a path to a scenario document or the document inline.
	Scenario yaml.Node `yaml:"scenario"`

	// Events is a path to an event log or the list inline.
	Events yaml.Node `yaml:"events,omitempty"`

	Limits Limits `yaml:"limits,omitempty"`

	// StrictGuards turns guard failures into node errors.
	StrictGuards bool `yaml:"strict_guards,omitempty"`

	// MaxChain overrides the engine's causal depth limit when positive.
	MaxChain int `yaml:"max_chain,omitempty"`

	Assertions []Assertion `yaml:"assertions"`

	dir string
}

// Limits bounds a case run.
type Limits struct {
	MaxSteps int   `yaml:"max_steps,omitempty"`
	MaxTicks int64 `yaml:"max_ticks,omitempty"`
}

// Assertion checks one property of a finished run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action and Node select ledger entries (activity_contains,
	// activity_count). Node also names the node for node_state and
	// node_errors.
	Action string `yaml:"action,omitempty"`
	Node   string `yaml:"node,omitempty"`

	// Value is a subset the entry's value must contain (activity_contains).
	Value map[string]any `yaml:"value,omitempty"`

	// Correlation must be among the entry's correlation ids
	// (activity_contains, activity_count).
	Correlation string `yaml:"correlation,omitempty"`

	// Count is the exact number of matches (activity_count, node_errors).
	Count int `yaml:"count,omitempty"`

	// Actions must appear in this order (activity_order).
	Actions []string `yaml:"actions,omitempty"`

	// Outcome is the expected run outcome (outcome).
	Outcome string `yaml:"outcome,omitempty"`

	// Expect is a subset of the node's final state (node_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Code filters node errors by code (node_errors).
	Code string `yaml:"code,omitempty"`
}

// Assertion types.
const (
	AssertActivityContains = "activity_contains"
	AssertActivityOrder    = "activity_order"
	AssertActivityCount    = "activity_count"
	AssertOutcome          = "outcome"
	AssertNodeState        = "node_state"
	AssertNodeErrors       = "node_errors"
)

// LoadCase reads a case file. Unknown keys are rejected so typos such as
// "assertion:" fail loudly.
func LoadCase(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}
	c, err := ParseCase(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// ParseCase decodes a case document. Relative paths inside it resolve
// against the working directory.
func ParseCase(data []byte) (*Case, error) {
	var c Case
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateCase(&c); err != nil {
		return nil, fmt.Errorf("invalid case: %w", err)
	}
	return &c, nil
}

func (c *Case) resolve(path string) string {
	if filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// LoadScenario resolves the case's scenario through the scenario loader.
func (c *Case) LoadScenario() (*scenario.Result, error) {
	switch c.Scenario.Kind {
	case yaml.ScalarNode:
		return scenario.LoadFile(c.resolve(c.Scenario.Value))
	case yaml.MappingNode:
		data, err := yaml.Marshal(&c.Scenario)
		if err != nil {
			return nil, fmt.Errorf("re-encode inline scenario: %w", err)
		}
		return scenario.Parse(data, c.Name+".scenario")
	default:
		return nil, fmt.Errorf("scenario must be a path or a mapping")
	}
}

// LoadEvents resolves the case's external events.
func (c *Case) LoadEvents() ([]ir.ExternalEvent, error) {
	switch c.Events.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return scenario.LoadEvents(c.resolve(c.Events.Value))
	case yaml.SequenceNode:
		data, err := yaml.Marshal(&c.Events)
		if err != nil {
			return nil, fmt.Errorf("re-encode inline events: %w", err)
		}
		return scenario.ParseEvents(data, c.Name+".events")
	default:
		return nil, fmt.Errorf("events must be a path or a list")
	}
}

func validateCase(c *Case) error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Scenario.Kind == 0 {
		return fmt.Errorf("scenario is required")
	}
	if len(c.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if c.Limits.MaxSteps < 0 || c.Limits.MaxTicks < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	for i := range c.Assertions {
		if err := validateAssertion(i, &c.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertActivityContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for activity_contains", index)
		}
	case AssertActivityOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for activity_order", index)
		}
	case AssertActivityCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for activity_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for activity_count", index)
		}
	case AssertOutcome:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for outcome", index)
		}
	case AssertNodeState:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for node_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for node_state", index)
		}
	case AssertNodeErrors:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for node_errors", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
