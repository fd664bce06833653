package types

import (
	"testing"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionRoundTripAllVariants(t *testing.T) {
	cases := []Condition{
		SimpleCondition{Field: "amount", Operator: OpGreaterThan, Value: factvalue.Int(100)},
		ComplexCondition{
			Operator: BoolAnd,
			Conditions: []Condition{
				SimpleCondition{Field: "region", Operator: OpEqual, Value: factvalue.String("east")},
				SimpleCondition{Field: "active", Operator: OpEqual, Value: factvalue.Bool(true)},
			},
		},
		AggregationCondition{
			Alias: "total", AggregationType: AggSum, SourceField: "amount",
			GroupBy: []string{"region"},
			Having:  SimpleCondition{Field: "total", Operator: OpGreaterThan, Value: factvalue.Int(1000)},
		},
		StreamCondition{
			Alias: "rate", Aggregation: AggCount, SourceField: "event",
			WindowSpec: WindowSpec{Kind: WindowTumbling, Size: 60000},
			Filter:     SimpleCondition{Field: "kind", Operator: OpEqual, Value: factvalue.String("click")},
		},
	}
	for _, c := range cases {
		b, err := MarshalCondition(c)
		require.NoError(t, err)
		out, err := UnmarshalCondition(b)
		require.NoError(t, err)
		assert.Equal(t, c, out)
	}
}

func TestUnmarshalConditionRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalCondition([]byte(`{"kind":"bogus","body":{}}`))
	assert.Error(t, err)
}

func TestUnmarshalConditionNull(t *testing.T) {
	c, err := UnmarshalCondition([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, c)
}
