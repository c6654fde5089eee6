package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
)

// marshalValue converts an IRValue to canonical JSON TEXT.
// A nil value is stored as null.
func marshalValue(v ir.IRValue) (string, error) {
	if v == nil {
		v = ir.IRNull{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT back to an IRValue. Large
// integers survive because the IR decoder reads numbers as json.Number.
func unmarshalValue(data string) (ir.IRValue, error) {
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func unmarshalObject(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	v, err := unmarshalValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("unmarshal object: got %T", v)
	}
	return obj, nil
}

func marshalStrings(ss []string) (string, error) {
	return marshalValue(ir.StringArray(ss))
}

func unmarshalStrings(data string) ([]string, error) {
	v, err := unmarshalValue(data)
	if err != nil {
		return nil, err
	}
	return ir.Strings(v), nil
}

// marshalData converts external event data to canonical JSON. Data must be
// representable as IR: no fractional numbers.
func marshalData(data map[string]any) (string, error) {
	obj, err := ir.ObjectFromGo(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return marshalValue(obj)
}

func unmarshalData(data string) (map[string]any, error) {
	obj, err := unmarshalObject(data)
	if err != nil {
		return nil, err
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return ir.ToGo(obj).(map[string]any), nil
}

// marshalScenario serializes a scenario document and derives its
// content-addressed id: "scn-" plus the first 16 hex digits of the
// SHA-256 of the document.
func marshalScenario(sc ir.Scenario) (id, doc string, err error) {
	data, err := json.Marshal(sc)
	if err != nil {
		return "", "", fmt.Errorf("marshal scenario: %w", err)
	}
	sum := sha256.Sum256(data)
	return "scn-" + hex.EncodeToString(sum[:8]), string(data), nil
}

func unmarshalScenario(doc string) (ir.Scenario, error) {
	var sc ir.Scenario
	if err := json.Unmarshal([]byte(doc), &sc); err != nil {
		return ir.Scenario{}, fmt.Errorf("unmarshal scenario: %w", err)
	}
	return sc, nil
}
