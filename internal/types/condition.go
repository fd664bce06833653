package types

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerrules/rete/internal/factvalue"
)

// Operator enumerates the simple-condition comparison operators of §3.
type Operator string

const (
	OpEqual              Operator = "Equal"
	OpNotEqual           Operator = "NotEqual"
	OpGreaterThan        Operator = "GreaterThan"
	OpLessThan           Operator = "LessThan"
	OpGreaterThanOrEqual Operator = "GreaterThanOrEqual"
	OpLessThanOrEqual    Operator = "LessThanOrEqual"
	OpContains           Operator = "Contains"
)

// BoolOp enumerates the boolean combinators for a Complex condition.
type BoolOp string

const (
	BoolAnd BoolOp = "And"
	BoolOr  BoolOp = "Or"
	BoolNot BoolOp = "Not"
)

// AggregationType enumerates the aggregation functions of §4.5.
type AggregationType string

const (
	AggSum               AggregationType = "Sum"
	AggCount             AggregationType = "Count"
	AggAverage           AggregationType = "Average"
	AggMin               AggregationType = "Min"
	AggMax               AggregationType = "Max"
	AggStandardDeviation AggregationType = "StandardDeviation"
	AggPercentile        AggregationType = "Percentile"
)

// WindowKind enumerates the stream window types of §4.6.
type WindowKind string

const (
	WindowTumbling WindowKind = "Tumbling"
	WindowSliding  WindowKind = "Sliding"
	WindowSession  WindowKind = "Session"
)

// WindowSpec describes a stream window's sizing parameters. Which fields
// apply depends on Kind: Tumbling uses Size; Sliding uses Size and
// Advance; Session uses GapTimeout.
type WindowSpec struct {
	Kind       WindowKind    `json:"kind"`
	Size       DurationMS    `json:"size,omitempty"`
	Advance    DurationMS    `json:"advance,omitempty"`
	GapTimeout DurationMS    `json:"gap_timeout,omitempty"`
}

// DurationMS is a millisecond duration, used so window specs round-trip
// through JSON as plain integers instead of Go's duration string format.
type DurationMS int64

// Condition is the sum type of §3: Simple, Complex, Aggregation, Stream.
// Per the design notes, variant handling is by type switch, not virtual
// dispatch — there is deliberately no Condition.Evaluate method.
type Condition interface {
	isCondition()
}

// SimpleCondition tests a single field of the current fact.
type SimpleCondition struct {
	Field    string          `json:"field"`
	Operator Operator        `json:"operator"`
	Value    factvalue.Value `json:"value"`
}

func (SimpleCondition) isCondition() {}

// ComplexCondition combines child conditions with And/Or/Not. Not uses
// only Conditions[0].
type ComplexCondition struct {
	Operator   BoolOp      `json:"operator"`
	Conditions []Condition `json:"conditions"`
}

func (ComplexCondition) isCondition() {}

// AggregationCondition binds an aggregation result under Alias for use by
// later conditions or actions in the same rule.
type AggregationCondition struct {
	Alias           string          `json:"alias"`
	AggregationType AggregationType `json:"aggregation_type"`
	SourceField     string          `json:"source_field"`
	GroupBy         []string        `json:"group_by,omitempty"`
	Window          *WindowSpec     `json:"window,omitempty"`
	Having          Condition       `json:"having,omitempty"`
	Percentile      float64         `json:"percentile,omitempty"`
}

func (AggregationCondition) isCondition() {}

// StreamCondition binds a temporal windowed aggregation under Alias.
type StreamCondition struct {
	Alias       string          `json:"alias"`
	Aggregation AggregationType `json:"aggregation"`
	SourceField string          `json:"source_field"`
	GroupBy     []string        `json:"group_by,omitempty"`
	WindowSpec  WindowSpec      `json:"window_spec"`
	Filter      Condition       `json:"filter,omitempty"`
	Having      Condition       `json:"having,omitempty"`
}

func (StreamCondition) isCondition() {}

// --- JSON tagged-union envelope -------------------------------------------

type conditionEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// MarshalCondition serializes any Condition variant into its tagged JSON
// envelope, recursing into nested conditions (Complex.Conditions,
// Aggregation/Stream.Having, Stream.Filter).
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return json.Marshal(nil)
	}
	var kind string
	var body any
	switch v := c.(type) {
	case SimpleCondition:
		kind, body = "simple", v
	case ComplexCondition:
		kind = "complex"
		raws := make([]json.RawMessage, len(v.Conditions))
		for i, child := range v.Conditions {
			b, err := MarshalCondition(child)
			if err != nil {
				return nil, err
			}
			raws[i] = b
		}
		body = struct {
			Operator   BoolOp            `json:"operator"`
			Conditions []json.RawMessage `json:"conditions"`
		}{v.Operator, raws}
	case AggregationCondition:
		kind = "aggregation"
		having, err := marshalOptionalCondition(v.Having)
		if err != nil {
			return nil, err
		}
		body = struct {
			Alias           string          `json:"alias"`
			AggregationType AggregationType `json:"aggregation_type"`
			SourceField     string          `json:"source_field"`
			GroupBy         []string        `json:"group_by,omitempty"`
			Window          *WindowSpec     `json:"window,omitempty"`
			Having          json.RawMessage `json:"having,omitempty"`
			Percentile      float64         `json:"percentile,omitempty"`
		}{v.Alias, v.AggregationType, v.SourceField, v.GroupBy, v.Window, having, v.Percentile}
	case StreamCondition:
		kind = "stream"
		filter, err := marshalOptionalCondition(v.Filter)
		if err != nil {
			return nil, err
		}
		having, err := marshalOptionalCondition(v.Having)
		if err != nil {
			return nil, err
		}
		body = struct {
			Alias       string          `json:"alias"`
			Aggregation AggregationType `json:"aggregation"`
			SourceField string          `json:"source_field"`
			GroupBy     []string        `json:"group_by,omitempty"`
			WindowSpec  WindowSpec      `json:"window_spec"`
			Filter      json.RawMessage `json:"filter,omitempty"`
			Having      json.RawMessage `json:"having,omitempty"`
		}{v.Alias, v.Aggregation, v.SourceField, v.GroupBy, v.WindowSpec, filter, having}
	default:
		return nil, fmt.Errorf("types: unknown condition variant %T", c)
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("types: marshal condition body: %w", err)
	}
	return json.Marshal(conditionEnvelope{Kind: kind, Body: bodyBytes})
}

func marshalOptionalCondition(c Condition) (json.RawMessage, error) {
	if c == nil {
		return nil, nil
	}
	b, err := MarshalCondition(c)
	return json.RawMessage(b), err
}

// UnmarshalCondition parses a tagged condition envelope back into a
// concrete Condition variant.
func UnmarshalCondition(data []byte) (Condition, error) {
	if string(data) == "null" || len(data) == 0 {
		return nil, nil
	}
	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("types: unmarshal condition envelope: %w", err)
	}
	switch env.Kind {
	case "simple":
		var s SimpleCondition
		if err := json.Unmarshal(env.Body, &s); err != nil {
			return nil, fmt.Errorf("types: unmarshal simple condition: %w", err)
		}
		return s, nil
	case "complex":
		var raw struct {
			Operator   BoolOp            `json:"operator"`
			Conditions []json.RawMessage `json:"conditions"`
		}
		if err := json.Unmarshal(env.Body, &raw); err != nil {
			return nil, fmt.Errorf("types: unmarshal complex condition: %w", err)
		}
		children := make([]Condition, len(raw.Conditions))
		for i, r := range raw.Conditions {
			c, err := UnmarshalCondition(r)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		return ComplexCondition{Operator: raw.Operator, Conditions: children}, nil
	case "aggregation":
		var raw struct {
			Alias           string          `json:"alias"`
			AggregationType AggregationType `json:"aggregation_type"`
			SourceField     string          `json:"source_field"`
			GroupBy         []string        `json:"group_by,omitempty"`
			Window          *WindowSpec     `json:"window,omitempty"`
			Having          json.RawMessage `json:"having,omitempty"`
			Percentile      float64         `json:"percentile,omitempty"`
		}
		if err := json.Unmarshal(env.Body, &raw); err != nil {
			return nil, fmt.Errorf("types: unmarshal aggregation condition: %w", err)
		}
		having, err := UnmarshalCondition(raw.Having)
		if err != nil {
			return nil, err
		}
		return AggregationCondition{
			Alias: raw.Alias, AggregationType: raw.AggregationType, SourceField: raw.SourceField,
			GroupBy: raw.GroupBy, Window: raw.Window, Having: having, Percentile: raw.Percentile,
		}, nil
	case "stream":
		var raw struct {
			Alias       string          `json:"alias"`
			Aggregation AggregationType `json:"aggregation"`
			SourceField string          `json:"source_field"`
			GroupBy     []string        `json:"group_by,omitempty"`
			WindowSpec  WindowSpec      `json:"window_spec"`
			Filter      json.RawMessage `json:"filter,omitempty"`
			Having      json.RawMessage `json:"having,omitempty"`
		}
		if err := json.Unmarshal(env.Body, &raw); err != nil {
			return nil, fmt.Errorf("types: unmarshal stream condition: %w", err)
		}
		filter, err := UnmarshalCondition(raw.Filter)
		if err != nil {
			return nil, err
		}
		having, err := UnmarshalCondition(raw.Having)
		if err != nil {
			return nil, err
		}
		return StreamCondition{
			Alias: raw.Alias, Aggregation: raw.Aggregation, SourceField: raw.SourceField,
			GroupBy: raw.GroupBy, WindowSpec: raw.WindowSpec, Filter: filter, Having: having,
		}, nil
	default:
		return nil, fmt.Errorf("types: unknown condition kind %q", env.Kind)
	}
}
