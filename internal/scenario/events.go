package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowsim/internal/ir"
)

// ParseEvents decodes a YAML or JSON list of external events. Every
// event needs an id unique within the list, a target and a non-negative
// timestamp, and its data must be representable as an IR object.
func ParseEvents(data []byte, filename string) ([]ir.ExternalEvent, error) {
	var events []ir.ExternalEvent
	if err := yaml.Unmarshal(data, &events); err != nil {
		verr := &ValidationError{}
		verr.add(CodeSyntax, "", "decode events: %v", err)
		return nil, verr.orNil(filename)
	}
	verr := &ValidationError{}
	checkEvents(events, verr)
	if err := verr.orNil(filename); err != nil {
		return nil, err
	}
	return events, nil
}

// LoadEvents reads and parses the event log at path.
func LoadEvents(path string) ([]ir.ExternalEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return ParseEvents(data, path)
}

// CheckTargets reports events whose target is not a DataSource of sc.
func CheckTargets(sc ir.Scenario, events []ir.ExternalEvent) error {
	verr := &ValidationError{}
	for i, x := range events {
		n, ok := sc.Node(x.TargetDataSourceID)
		if !ok || n.Type != ir.NodeTypeDataSource {
			verr.add(CodeEvent, fmt.Sprintf("events[%d].targetDataSourceId", i), "%q is not a DataSource of %s", x.TargetDataSourceID, sc.Name)
		}
	}
	return verr.orNil("")
}

func checkEvents(events []ir.ExternalEvent, verr *ValidationError) {
	seen := map[string]bool{}
	for i, x := range events {
		path := fmt.Sprintf("events[%d]", i)
		switch {
		case x.ID == "":
			verr.add(CodeEvent, path+".id", "is required")
		case seen[x.ID]:
			verr.add(CodeEvent, path+".id", "event id %q is used more than once", x.ID)
		}
		seen[x.ID] = true
		if x.TargetDataSourceID == "" {
			verr.add(CodeEvent, path+".targetDataSourceId", "is required")
		}
		if x.Timestamp < 0 {
			verr.add(CodeEvent, path+".timestamp", "must be >= 0")
		}
		if _, err := ir.ObjectFromGo(x.Data); err != nil {
			verr.add(CodeEvent, path+".data", "%v", err)
		}
	}
}
