package rete

import (
	"math"
	"strings"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

// evaluateSimple applies one SimpleCondition's operator to the named
// field of fact. Float equality is strict bitwise (via
// factvalue.Value.Equal) when floatEpsilon is 0, per the Open Question
// resolution in DESIGN.md — this is deliberately distinct from the
// calculator's own epsilon-based equality (§8 invariant 8). A Network
// configured with config.EngineConfig.StrictFloatEquality=false passes
// a positive floatEpsilon here instead.
func evaluateSimple(cond types.SimpleCondition, fact *types.Fact, floatEpsilon float64) bool {
	actual, ok := fact.Fields[cond.Field]
	if !ok {
		return false
	}
	return applyOperator(cond.Operator, actual, cond.Value, floatEpsilon)
}

func applyOperator(op types.Operator, actual, expected factvalue.Value, floatEpsilon float64) bool {
	switch op {
	case types.OpEqual:
		return valuesEqual(actual, expected, floatEpsilon)
	case types.OpNotEqual:
		return !valuesEqual(actual, expected, floatEpsilon)
	case types.OpGreaterThan:
		c, err := actual.Compare(expected)
		return err == nil && c > 0
	case types.OpLessThan:
		c, err := actual.Compare(expected)
		return err == nil && c < 0
	case types.OpGreaterThanOrEqual:
		c, err := actual.Compare(expected)
		return err == nil && c >= 0
	case types.OpLessThanOrEqual:
		c, err := actual.Compare(expected)
		return err == nil && c <= 0
	case types.OpContains:
		return containsOperator(actual, expected)
	default:
		return false
	}
}

// valuesEqual is Equal, loosened to an epsilon-bounded float comparison
// when floatEpsilon > 0 and both values are numeric; non-float
// comparisons and the floatEpsilon == 0 default fall through to
// factvalue.Value.Equal's exact comparison unchanged.
func valuesEqual(a, b factvalue.Value, floatEpsilon float64) bool {
	if floatEpsilon > 0 {
		if af, ok := a.AsFloat64(); ok {
			if bf, ok2 := b.AsFloat64(); ok2 {
				return math.Abs(af-bf) <= floatEpsilon
			}
		}
	}
	return a.Equal(b)
}

// containsOperator implements the Contains operator: substring test for
// strings, membership test for arrays.
func containsOperator(actual, expected factvalue.Value) bool {
	if s, ok := actual.Str(); ok {
		if sub, ok := expected.Str(); ok {
			return strings.Contains(s, sub)
		}
		return false
	}
	if items, ok := actual.Items(); ok {
		for _, item := range items {
			if item.Equal(expected) {
				return true
			}
		}
		return false
	}
	return false
}

// evaluateCondition dispatches Simple and Complex conditions against a
// fact. Aggregation and Stream conditions never reach the network: the
// engine facade pre-evaluates them (internal/aggregation,
// internal/stream) and folds their alias binding onto the fact before
// compilation/evaluation ever sees the rule, per the compilation
// boundary documented in DESIGN.md. Reaching either variant here is a
// caller error, not a runtime fact-matching outcome.
func evaluateCondition(cond types.Condition, fact *types.Fact, floatEpsilon float64) bool {
	switch c := cond.(type) {
	case types.SimpleCondition:
		return evaluateSimple(c, fact, floatEpsilon)
	case types.ComplexCondition:
		return evaluateComplex(c, fact, floatEpsilon)
	default:
		return false
	}
}

func evaluateComplex(c types.ComplexCondition, fact *types.Fact, floatEpsilon float64) bool {
	switch c.Operator {
	case types.BoolNot:
		if len(c.Conditions) == 0 {
			return false
		}
		return !evaluateCondition(c.Conditions[0], fact, floatEpsilon)
	case types.BoolAnd:
		for _, child := range c.Conditions {
			if !evaluateCondition(child, fact, floatEpsilon) {
				return false
			}
		}
		return true
	case types.BoolOr:
		for _, child := range c.Conditions {
			if evaluateCondition(child, fact, floatEpsilon) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Evaluate is the exported form of evaluateCondition, using strict
// (bitwise) float equality, for callers outside this package that need
// to test a Simple/Complex condition against a single fact without
// going through the network (the engine facade's global Aggregation/
// Stream rule re-evaluation path, which still needs to test any
// Filter/Having sub-conditions those variants carry).
func Evaluate(cond types.Condition, fact *types.Fact) bool {
	return evaluateCondition(cond, fact, 0)
}

// isNetworkCondition reports whether cond can be compiled into the
// alpha/beta network (Simple or Complex); Aggregation and Stream
// conditions are handled upstream of compilation (see evaluateCondition).
func isNetworkCondition(cond types.Condition) bool {
	switch cond.(type) {
	case types.SimpleCondition, types.ComplexCondition:
		return true
	default:
		return false
	}
}

// fieldsOf returns the field names a condition references directly,
// used by deriveJoinConditions to derive join conditions between a rule's
// condition prefix and its next condition (§4.3.1: "Join conditions are
// derived from any shared fields between the prefix and the new
// condition"). Complex conditions contribute every field named by any
// of their Simple descendants.
func fieldsOf(cond types.Condition) []string {
	switch c := cond.(type) {
	case types.SimpleCondition:
		return []string{c.Field}
	case types.ComplexCondition:
		var out []string
		for _, child := range c.Conditions {
			out = append(out, fieldsOf(child)...)
		}
		return out
	default:
		return nil
	}
}
