package calculator

import (
	"testing"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmeticPrecedence(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	v, err := e.Evaluate("2 + 3 * 4", Context{})
	require.NoError(t, err)
	i, ok := v.Int()
	require.True(t, ok)
	assert.Equal(t, int64(14), i)
}

func TestPowerRightAssociative(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	v, err := e.Evaluate("2 ** 3 ** 2", Context{})
	require.NoError(t, err)
	i, _ := v.Int()
	assert.Equal(t, int64(512), i) // 2 ** (3 ** 2) = 2 ** 9
}

func TestDivisionByZero(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	_, err := e.Evaluate("1 / 0", Context{})
	require.Error(t, err)
	var ce *CalcError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrDivisionByZero, ce.Kind)
}

func TestUnknownVariable(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	_, err := e.Evaluate("missing + 1", Context{})
	require.Error(t, err)
	var ce *CalcError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrUnknownVariable, ce.Kind)
}

func TestFieldAccessAndIndexing(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	ctx := Context{
		"order": factvalue.Object(map[string]factvalue.Value{
			"items": factvalue.Array([]factvalue.Value{factvalue.Int(1), factvalue.Int(2), factvalue.Int(3)}),
		}),
	}
	v, err := e.Evaluate("order.items[-1]", ctx)
	require.NoError(t, err)
	i, _ := v.Int()
	assert.Equal(t, int64(3), i)
}

func TestArrayIndexOutOfBounds(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	ctx := Context{"a": factvalue.Array([]factvalue.Value{factvalue.Int(1)})}
	_, err := e.Evaluate("a[5]", ctx)
	require.Error(t, err)
	var ce *CalcError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrArrayIndexOOB, ce.Kind)
}

func TestIfThenElse(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	v, err := e.Evaluate(`if amount > 100 then "big" else "small"`, Context{"amount": factvalue.Int(500)})
	require.NoError(t, err)
	s, _ := v.Str()
	assert.Equal(t, "big", s)
}

func TestCondSet(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	expr := `cond { tier == "gold": 0.2, tier == "silver": 0.1, default: 0.0 }`
	v, err := e.Evaluate(expr, Context{"tier": factvalue.String("silver")})
	require.NoError(t, err)
	f, _ := v.Float()
	assert.Equal(t, 0.1, f)
}

func TestCalculatorEpsilonEquality(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	v, err := e.Evaluate("0.1 + 0.2 == 0.3", Context{})
	require.NoError(t, err)
	b, _ := v.Bool()
	assert.True(t, b, "calculator equality should be epsilon-tolerant")
}

func TestStringOps(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	v, err := e.Evaluate(`concat("a", "b", "c")`, Context{})
	require.NoError(t, err)
	s, _ := v.Str()
	assert.Equal(t, "abc", s)

	v, err = e.Evaluate(`startsWith("hello world", "hello")`, Context{})
	require.NoError(t, err)
	b, _ := v.Bool()
	assert.True(t, b)
}

// TestHoursBetweenBuiltin is scenario S4 from spec.md.
func TestHoursBetweenBuiltin(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	ctx := Context{
		"start": factvalue.String("2025-01-01 08:00:00"),
		"end":   factvalue.String("2025-01-01 18:00:00"),
	}
	v, err := e.Evaluate("hours_between(start, end)", ctx)
	require.NoError(t, err)
	f, ok := v.Float()
	require.True(t, ok)
	assert.Equal(t, 10.0, f)
}

func TestResultCacheServesSameExpressionSameContext(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	ctx := Context{"x": factvalue.Int(2)}
	v1, err := e.Evaluate("x * x", ctx)
	require.NoError(t, err)
	v2, err := e.Evaluate("x * x", ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, uint64(1), e.ResultCacheStats().Hits)
}

func TestAllocateProportional(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	ctx := Context{
		"total":   factvalue.Float(100),
		"weights": factvalue.Array([]factvalue.Value{factvalue.Float(1), factvalue.Float(3)}),
	}
	v, err := e.Evaluate("allocate_proportional(total, weights)", ctx)
	require.NoError(t, err)
	items, ok := v.Items()
	require.True(t, ok)
	require.Len(t, items, 2)
	f0, _ := items[0].Float()
	f1, _ := items[1].Float()
	assert.InDelta(t, 25.0, f0, 0.0001)
	assert.InDelta(t, 75.0, f1, 0.0001)
}
