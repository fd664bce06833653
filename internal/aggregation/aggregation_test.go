package aggregation

import (
	"testing"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fact(id types.FactID, fields map[string]factvalue.Value) *types.Fact {
	return &types.Fact{ID: id, Fields: fields}
}

// TestSumWithFilter is scenario S5 from spec.md.
func TestSumWithFilter(t *testing.T) {
	facts := []*types.Fact{
		fact(1, map[string]factvalue.Value{"employee": factvalue.String("A"), "hours": factvalue.Int(8), "status": factvalue.String("active")}),
		fact(2, map[string]factvalue.Value{"employee": factvalue.String("A"), "hours": factvalue.Int(9), "status": factvalue.String("active")}),
		fact(3, map[string]factvalue.Value{"employee": factvalue.String("B"), "hours": factvalue.Float(7.5), "status": factvalue.String("active")}),
		fact(4, map[string]factvalue.Value{"employee": factvalue.String("C"), "hours": factvalue.Int(100), "status": factvalue.String("inactive")}),
	}
	spec := Spec{
		GroupBy:         []string{"employee"},
		SourceField:     "hours",
		AggregationType: types.AggSum,
		Filter: func(f *types.Fact) (bool, error) {
			status, ok := f.Fields["status"]
			return ok && status.Equal(factvalue.String("active")), nil
		},
	}
	results, err := Aggregate(facts, spec)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byKey := map[string]Result{}
	for _, r := range results {
		byKey[r.GroupKey] = r
	}
	a := byKey["A"]
	f, _ := a.AggregatedValue.Float()
	assert.Equal(t, 17.0, f)
	assert.Equal(t, 2, a.FactCount)

	b := byKey["B"]
	fb, _ := b.AggregatedValue.Float()
	assert.Equal(t, 7.5, fb)
	assert.Equal(t, 1, b.FactCount)
}

func TestMinMaxOnEmptyGroupIsNull(t *testing.T) {
	v, err := reduce(types.AggMin, nil, 0)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = reduce(types.AggMax, nil, 0)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	// floor(50/100 * 4) = 2 -> sorted[2] = 3
	assert.Equal(t, 3.0, percentileOf(values, 50))
}

func TestStandardDeviationPopulation(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, populationStdDev(values), 0.0001)
}

func TestStringSourceFieldIsParsed(t *testing.T) {
	facts := []*types.Fact{
		fact(1, map[string]factvalue.Value{"region": factvalue.String("east"), "amount": factvalue.String("12.5")}),
	}
	results, err := Aggregate(facts, Spec{GroupBy: []string{"region"}, SourceField: "amount", AggregationType: types.AggSum})
	require.NoError(t, err)
	require.Len(t, results, 1)
	f, _ := results[0].AggregatedValue.Float()
	assert.Equal(t, 12.5, f)
}

func TestUnparsableStringFailsGroup(t *testing.T) {
	facts := []*types.Fact{
		fact(1, map[string]factvalue.Value{"region": factvalue.String("east"), "amount": factvalue.String("not-a-number")}),
	}
	_, err := Aggregate(facts, Spec{GroupBy: []string{"region"}, SourceField: "amount", AggregationType: types.AggSum})
	require.Error(t, err)
}
