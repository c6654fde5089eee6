package ir

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DomainToken prefixes every token hash so token ids can never collide with
// another hash family computed over the same bytes.
const DomainToken = "flowsim/token/v1"

// DeterministicTokenID is the full result of identity generation.
type DeterministicTokenID struct {
	ID                 string   `json:"id"`
	Generation         int      `json:"generation"`
	ParentIDs          []string `json:"parent_ids"`
	CorrelationIDs     []string `json:"correlation_ids"`
	TransformationHash string   `json:"transformation_hash"`
}

var (
	strictGenerationRe = regexp.MustCompile(`_g(\d+)_[0-9a-f]{16}$`)
	looseGenerationRe  = regexp.MustCompile(`_g(\d+)_`)
)

// hashWithDomain computes xxHash64(domain + 0x00 + data) as 16 hex digits.
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	d := xxhash.New()
	_, _ = d.WriteString(domain)
	_, _ = d.Write([]byte{0x00})
	_, _ = d.Write(data)
	return fmt.Sprintf("%016x", d.Sum64())
}

// GenerateTokenID computes the content-addressed identity of a token.
//
// Parent ids are sorted before hashing, so the id does not depend on the
// order in which a fan-in node saw its inputs. The transformation data is
// canonicalized (keys sorted recursively), so authoring order of a payload
// does not matter either. Correlation ids are carried on the result but are
// not part of the hash: they are business metadata, not identity.
//
// The id has the form "<nodeID>_g<generation>_<hash>".
func GenerateTokenID(
	nodeID string,
	nodeType NodeType,
	timestamp int64,
	parentIDs []string,
	data IRObject,
	correlationIDs []string,
) (DeterministicTokenID, error) {
	parents := slices.Clone(parentIDs)
	slices.Sort(parents)
	if parents == nil {
		parents = []string{}
	}

	generation := 0
	for _, p := range parents {
		if g := ParseGeneration(p) + 1; g > generation {
			generation = g
		}
	}

	if data == nil {
		data = IRObject{}
	}
	normalized, err := MarshalCanonical(data)
	if err != nil {
		return DeterministicTokenID{}, fmt.Errorf("GenerateTokenID: normalize data: %w", err)
	}

	canonical, err := MarshalCanonical(IRObject{
		"nodeId":    IRString(nodeID),
		"nodeType":  IRString(nodeType),
		"timestamp": IRInt(timestamp),
		"parentIds": StringArray(parents),
		"data":      data,
	})
	if err != nil {
		return DeterministicTokenID{}, fmt.Errorf("GenerateTokenID: marshal: %w", err)
	}

	return DeterministicTokenID{
		ID:                 fmt.Sprintf("%s_g%d_%s", nodeID, generation, hashWithDomain(DomainToken, canonical)),
		Generation:         generation,
		ParentIDs:          parents,
		CorrelationIDs:     SortedUnique(correlationIDs),
		TransformationHash: hashWithDomain(DomainToken, normalized),
	}, nil
}

// ParseGeneration extracts the generation embedded in a token id.
// Ids that do not follow the "_g<N>_" convention count as generation 0.
func ParseGeneration(id string) int {
	if m := strictGenerationRe.FindStringSubmatch(id); m != nil {
		return atoiOrZero(m[1])
	}
	all := looseGenerationRe.FindAllStringSubmatch(id, -1)
	if len(all) == 0 {
		return 0
	}
	return atoiOrZero(all[len(all)-1][1])
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func singleParent(parentID string) []string {
	if parentID == "" {
		return nil
	}
	return []string{parentID}
}

// SourceTokenID identifies a token created by a DataSource (no parents).
func SourceTokenID(nodeID string, timestamp int64, value IRObject, correlationIDs []string) (DeterministicTokenID, error) {
	return GenerateTokenID(nodeID, NodeTypeDataSource, timestamp, nil,
		IRObject{"source": value.Clone()}, correlationIDs)
}

// TransitionDescription describes an FSM state change for identity purposes.
type TransitionDescription struct {
	From    string
	To      string
	Event   string
	Trigger string
}

// FSMTokenID identifies a token emitted by an FSM node after a transition.
func FSMTokenID(nodeID string, timestamp int64, parentID string, t TransitionDescription, correlationIDs []string) (DeterministicTokenID, error) {
	return GenerateTokenID(nodeID, NodeTypeFSM, timestamp, singleParent(parentID), IRObject{
		"transition": IRObject{
			"from":    IRString(t.From),
			"to":      IRString(t.To),
			"event":   IRString(t.Event),
			"trigger": IRString(t.Trigger),
		},
	}, correlationIDs)
}

// AggregatorTokenID identifies a token produced by a fan-in node from many
// parents. The result is independent of parent order.
func AggregatorTokenID(
	nodeID string,
	nodeType NodeType,
	timestamp int64,
	parentIDs []string,
	method string,
	value IRValue,
	tokenType string,
	correlationIDs []string,
) (DeterministicTokenID, error) {
	if value == nil {
		value = IRNull{}
	}
	return GenerateTokenID(nodeID, nodeType, timestamp, parentIDs, IRObject{
		"aggregation": IRObject{
			"method": IRString(method),
			"value":  value,
			"type":   IRString(tokenType),
		},
	}, correlationIDs)
}

// MultiplexerTokenID identifies a token routed by a Multiplexer. The routing
// decision is part of the identity, so a broadcast to three outputs yields
// three distinct children of the same parent.
func MultiplexerTokenID(nodeID string, timestamp int64, parentID, output, strategy string, correlationIDs []string) (DeterministicTokenID, error) {
	return GenerateTokenID(nodeID, NodeTypeMultiplexer, timestamp, singleParent(parentID), IRObject{
		"route": IRObject{
			"output":   IRString(output),
			"strategy": IRString(strategy),
		},
	}, correlationIDs)
}

// ProcessTokenID identifies a token transformed by a Process node.
func ProcessTokenID(nodeID string, timestamp int64, parentID string, transformation IRObject, correlationIDs []string) (DeterministicTokenID, error) {
	return GenerateTokenID(nodeID, NodeTypeProcess, timestamp, singleParent(parentID),
		IRObject{"transform": transformation.Clone()}, correlationIDs)
}
