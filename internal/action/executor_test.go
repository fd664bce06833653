package action

import (
	"testing"

	"github.com/ledgerrules/rete/internal/calculator"
	"github.com/ledgerrules/rete/internal/factstore"
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (*Executor, factstore.Store, *types.Fact) {
	t.Helper()
	store := factstore.NewHashMap()
	calc := calculator.NewEngine(nil, 0, 0)
	ex := New(store, calc, nil)

	fact := &types.Fact{Fields: map[string]factvalue.Value{
		"hours": factvalue.Int(8),
		"tags":  factvalue.Array([]factvalue.Value{factvalue.String("a")}),
	}}
	_, err := store.Insert(fact)
	require.NoError(t, err)
	return ex, store, fact
}

func TestRunSetField(t *testing.T) {
	ex, store, fact := newFixture(t)
	results := ex.Run(fact, []types.Action{
		types.SetFieldAction{Field: "status", Value: factvalue.String("ok")},
	})
	require.Len(t, results, 1)
	res, ok := results[0].(types.FactUpdatedResult)
	require.True(t, ok)
	assert.Equal(t, []string{"status"}, res.UpdatedFields)

	stored, _ := store.Get(fact.ID)
	s, _ := stored.Fields["status"].Str()
	assert.Equal(t, "ok", s)
}

func TestRunIncrementFieldPreservesIntegerKind(t *testing.T) {
	ex, _, fact := newFixture(t)
	results := ex.Run(fact, []types.Action{
		types.IncrementFieldAction{Field: "hours", Increment: factvalue.Int(2)},
	})
	res := results[0].(types.FieldIncrementedResult)
	assert.Equal(t, 8.0, res.OldValue)
	assert.Equal(t, 10.0, res.NewValue)
	assert.Equal(t, factvalue.KindInteger, fact.Fields["hours"].Kind())
}

func TestRunAppendToArray(t *testing.T) {
	ex, _, fact := newFixture(t)
	results := ex.Run(fact, []types.Action{
		types.AppendToArrayAction{Field: "tags", Value: factvalue.String("b")},
	})
	res := results[0].(types.ArrayAppendedResult)
	assert.Equal(t, 2, res.NewLength)
}

func TestRunAppendToArrayFailsOnNonArrayField(t *testing.T) {
	ex, _, fact := newFixture(t)
	results := ex.Run(fact, []types.Action{
		types.AppendToArrayAction{Field: "hours", Value: factvalue.Int(1)},
	})
	_, ok := results[0].(types.ErrorResult)
	assert.True(t, ok)
}

func TestUpdateFactRequiresIntegerFactIDField(t *testing.T) {
	ex, store, fact := newFixture(t)
	other := &types.Fact{Fields: map[string]factvalue.Value{"x": factvalue.Int(1)}}
	_, err := store.Insert(other)
	require.NoError(t, err)

	fact.Fields["target_id"] = factvalue.Float(float64(other.ID)) // float, not int
	results := ex.Run(fact, []types.Action{
		types.UpdateFactAction{FactIDField: "target_id", Updates: map[string]factvalue.Value{"x": factvalue.Int(2)}},
	})
	errRes, ok := results[0].(types.ErrorResult)
	require.True(t, ok)
	assert.Contains(t, errRes.Message, "integer-typed")
}

func TestUpdateFactSucceedsWithIntegerFactIDField(t *testing.T) {
	ex, store, fact := newFixture(t)
	other := &types.Fact{Fields: map[string]factvalue.Value{"x": factvalue.Int(1)}}
	_, err := store.Insert(other)
	require.NoError(t, err)

	fact.Fields["target_id"] = factvalue.Int(int64(other.ID))
	results := ex.Run(fact, []types.Action{
		types.UpdateFactAction{FactIDField: "target_id", Updates: map[string]factvalue.Value{"x": factvalue.Int(2)}},
	})
	res, ok := results[0].(types.FactUpdatedResult)
	require.True(t, ok)
	assert.Equal(t, other.ID, res.FactID)

	updated, _ := store.Get(other.ID)
	x, _ := updated.Fields["x"].Int()
	assert.Equal(t, int64(2), x)
}

func TestOneFailingActionDoesNotAbortTheRest(t *testing.T) {
	ex, _, fact := newFixture(t)
	results := ex.Run(fact, []types.Action{
		types.DeleteFactAction{FactIDField: "missing_field"},
		types.LogAction{Message: "still runs"},
	})
	require.Len(t, results, 2)
	_, isErr := results[0].(types.ErrorResult)
	assert.True(t, isErr)
	logged, ok := results[1].(types.LoggedResult)
	require.True(t, ok)
	assert.Equal(t, "still runs", logged.Message)
}

func TestCallCalculatorAction(t *testing.T) {
	ex, store, fact := newFixture(t)
	fact.Fields["start"] = factvalue.String("2024-01-01T08:00:00Z")
	fact.Fields["end"] = factvalue.String("2024-01-01T18:00:00Z")

	results := ex.Run(fact, []types.Action{
		types.CallCalculatorAction{
			CalculatorName: "hours_between",
			InputMapping:   map[string]string{"start": "start", "end": "end"},
			OutputField:    "worked_hours",
		},
	})
	res, ok := results[0].(types.CalculatorResultResult)
	require.True(t, ok)
	f, _ := res.Value.AsFloat64()
	assert.Equal(t, 10.0, f)

	stored, _ := store.Get(fact.ID)
	sf, _ := stored.Fields["worked_hours"].AsFloat64()
	assert.Equal(t, 10.0, sf)
}

func TestFormulaAction(t *testing.T) {
	ex, _, fact := newFixture(t)
	results := ex.Run(fact, []types.Action{
		types.FormulaAction{TargetField: "double_hours", Expression: "hours * 2"},
	})
	res, ok := results[0].(types.CalculatorResultResult)
	require.True(t, ok)
	f, _ := res.Value.AsFloat64()
	assert.Equal(t, 16.0, f)
}

func TestTriggerAlertAction(t *testing.T) {
	ex, _, fact := newFixture(t)
	results := ex.Run(fact, []types.Action{
		types.TriggerAlertAction{AlertType: "overtime", Message: "over 40h", Severity: "medium"},
	})
	res, ok := results[0].(types.AlertTriggeredResult)
	require.True(t, ok)
	assert.Equal(t, "overtime", res.AlertType)
	assert.False(t, res.FiredAt.IsZero())
}
