package factvalue

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualAcrossIncompatibleKindsNeverErrors(t *testing.T) {
	cases := []struct {
		name  string
		left  Value
		right Value
	}{
		{"int vs string", Int(1), String("1")},
		{"null vs bool", Null(), Bool(false)},
		{"array vs object", Array([]Value{Int(1)}), Object(map[string]Value{"a": Int(1)})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.False(t, c.left.Equal(c.right))
			assert.True(t, c.left.NotEqual(c.right))
		})
	}
}

func TestNaNEqualsNaN(t *testing.T) {
	a := Float(math.NaN())
	b := Float(math.NaN())
	assert.True(t, a.Equal(b))
}

func TestCompareAcrossIncompatibleKindsErrors(t *testing.T) {
	_, err := Int(1).Compare(String("1"))
	require.Error(t, err)
	var typeErr *ErrIncompatibleTypes
	require.ErrorAs(t, err, &typeErr)
}

func TestCompareFloatsStrict(t *testing.T) {
	c, err := Float(1.5).Compare(Float(2.5))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Float(math.NaN()).Compare(Float(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, 0, c)
}

func TestHashStableAcrossFieldOrder(t *testing.T) {
	a := Object(map[string]Value{"a": Int(1), "b": String("x")})
	b := Object(map[string]Value{"b": String("x"), "a": Int(1)})
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHashDistinguishesFloatBitPattern(t *testing.T) {
	a := Float(0.0)
	b := Float(math.Copysign(0, -1))
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestJSONRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	vals := []Value{
		Null(),
		Bool(true),
		Int(42),
		Float(3.5),
		String("hi"),
		Date(now),
		Array([]Value{Int(1), String("x")}),
		Object(map[string]Value{"k": Int(1)}),
	}
	for _, v := range vals {
		b, err := v.MarshalJSON()
		require.NoError(t, err)
		var out Value
		require.NoError(t, out.UnmarshalJSON(b))
		assert.True(t, v.Equal(out), "round trip mismatch for %s: %s", v.Kind(), string(b))
	}
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{"a": []any{1.0, "x", nil}})
	require.NoError(t, err)
	fields, ok := v.Fields()
	require.True(t, ok)
	items, ok := fields["a"].Items()
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.True(t, items[2].IsNull())
}
