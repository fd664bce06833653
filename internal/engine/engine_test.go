package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerrules/rete/internal/calculator"
	"github.com/ledgerrules/rete/internal/factstore"
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

func newTestEngine() *Engine {
	calc := calculator.NewEngine(calculator.NewRegistry(), 16, 16)
	return New(factstore.NewHashMap(), calc, nil)
}

func hoursFact(id types.FactID, hours int64) *types.Fact {
	return &types.Fact{ID: id, Fields: map[string]factvalue.Value{"hours": factvalue.Int(hours)}}
}

// TestAddProcessRemoveRoundTrip exercises the facade's basic cycle: a
// Simple-condition rule compiles into the network, fires on a matching
// fact, and stops firing once removed.
func TestAddProcessRemoveRoundTrip(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	rule := &types.Rule{
		ID:   1,
		Name: "overtime",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "hours", Operator: types.OpGreaterThan, Value: factvalue.Int(40)},
		},
		Actions: []types.Action{types.LogAction{Message: "overtime"}},
		Priority: 1,
		Enabled:  true,
	}
	require.NoError(t, e.AddRule(ctx, rule))

	results, err := e.ProcessFacts(ctx, []*types.Fact{hoursFact(1, 45)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "overtime", results[0].RuleName)

	require.NoError(t, e.RemoveRule(1))

	results, err = e.ProcessFacts(ctx, []*types.Fact{hoursFact(2, 50)})
	require.NoError(t, err)
	require.Empty(t, results)
}

// TestProcessFactsRefiresSameMatchOnUnchangedReprocessing exercises
// invariant 2 / scenario S3: re-submitting the same unmodified fact set
// on a later cycle returns the same rule_execution_result list as the
// first call, since the rule is still matched even though the change
// tracker (internal/changetracker) classifies the fact Unchanged and
// forwards nothing into the network that cycle. The tracker's
// classification decides which facts are admitted to the network, not
// which matches get reported.
func TestProcessFactsRefiresSameMatchOnUnchangedReprocessing(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	rule := &types.Rule{
		ID:   1,
		Name: "overtime",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "hours", Operator: types.OpGreaterThan, Value: factvalue.Int(40)},
		},
		Actions: []types.Action{types.LogAction{Message: "overtime"}},
		Enabled: true,
	}
	require.NoError(t, e.AddRule(ctx, rule))

	fact := hoursFact(1, 45)
	results, err := e.ProcessFacts(ctx, []*types.Fact{fact})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "overtime", results[0].RuleName)

	results, err = e.ProcessFacts(ctx, []*types.Fact{fact})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "overtime", results[0].RuleName)

	modified := hoursFact(1, 46)
	results, err = e.ProcessFacts(ctx, []*types.Fact{modified})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

// TestAggregationConditionEvaluatesGlobally exercises the compilation
// boundary decision: a rule carrying an AggregationCondition is never
// compiled into the network, yet still fires when its Having clause is
// satisfied by the current fact set.
func TestAggregationConditionEvaluatesGlobally(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	rule := &types.Rule{
		ID:   1,
		Name: "team-overtime-total",
		Conditions: []types.Condition{
			types.AggregationCondition{
				Alias:           "total_hours",
				AggregationType: types.AggSum,
				SourceField:     "hours",
				Having: types.SimpleCondition{
					Field: "total_hours", Operator: types.OpGreaterThan, Value: factvalue.Float(100),
				},
			},
		},
		Actions: []types.Action{types.LogAction{Message: "team over budget"}},
		Enabled: true,
	}
	require.NoError(t, e.AddRule(ctx, rule))

	stats := e.GetStats()
	require.Equal(t, 0, stats.NodeCount, "aggregation rules must not compile into the network")

	results, err := e.ProcessFacts(ctx, []*types.Fact{
		hoursFact(1, 60),
		hoursFact(2, 60),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "team-overtime-total", results[0].RuleName)

	results, err = e.ProcessFacts(ctx, []*types.Fact{hoursFact(1, 10)})
	require.NoError(t, err)
	require.Empty(t, results)
}

// TestStreamConditionEvaluatesGlobally exercises the stream-condition
// global evaluation path end to end through the facade.
func TestStreamConditionEvaluatesGlobally(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	now := time.Now()
	rule := &types.Rule{
		ID:   1,
		Name: "session-total",
		Conditions: []types.Condition{
			types.StreamCondition{
				Alias:       "session_total",
				Aggregation: types.AggSum,
				SourceField: "amount",
				WindowSpec:  types.WindowSpec{Kind: types.WindowTumbling, Size: types.DurationMS(time.Hour.Milliseconds())},
			},
		},
		Actions: []types.Action{types.LogAction{Message: "session closed"}},
		Enabled: true,
	}
	require.NoError(t, e.AddRule(ctx, rule))

	f1 := &types.Fact{ID: 1, Timestamp: now, Fields: map[string]factvalue.Value{"amount": factvalue.Int(10)}}
	f2 := &types.Fact{ID: 2, Timestamp: now, Fields: map[string]factvalue.Value{"amount": factvalue.Int(20)}}

	results, err := e.ProcessFacts(ctx, []*types.Fact{f1, f2})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

// TestStreamConditionFiresOncePerQualifyingWindow exercises scenario S6
// through the facade: a 3s session-gap rule requiring count >= 2 fires
// for the first two sessions (sizes 3 and 2) and not the third (size 1),
// all within a single ProcessFacts cycle.
func TestStreamConditionFiresOncePerQualifyingWindow(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	rule := &types.Rule{
		ID:   1,
		Name: "busy-session",
		Conditions: []types.Condition{
			types.StreamCondition{
				Alias:       "event_count",
				Aggregation: types.AggCount,
				SourceField: "amount",
				WindowSpec:  types.WindowSpec{Kind: types.WindowSession, GapTimeout: 3000},
				Having: types.SimpleCondition{
					Field: "event_count", Operator: types.OpGreaterThanOrEqual, Value: factvalue.Int(2),
				},
			},
		},
		Actions: []types.Action{types.LogAction{Message: "busy session"}},
		Enabled: true,
	}
	require.NoError(t, e.AddRule(ctx, rule))

	base := time.Unix(1700000000, 0)
	facts := make([]*types.Fact, 0, 6)
	for i, sec := range []int64{1, 2, 3, 7, 8, 15} {
		facts = append(facts, &types.Fact{
			ID:        types.FactID(i + 1),
			Timestamp: base.Add(time.Duration(sec) * time.Second),
			Fields:    map[string]factvalue.Value{"amount": factvalue.Int(1)},
		})
	}

	results, err := e.ProcessFacts(ctx, facts)
	require.NoError(t, err)
	require.Len(t, results, 2, "sessions of size 3 and 2 satisfy count >= 2; the size-1 session does not")
}

// TestGetStatsClearAndLookup covers GetStats, Clear, ClearFacts, and
// LookupFactByID.
func TestGetStatsClearAndLookup(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	rule := &types.Rule{
		ID:   1,
		Name: "overtime",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "hours", Operator: types.OpGreaterThan, Value: factvalue.Int(40)},
		},
		Actions: []types.Action{types.LogAction{Message: "overtime"}},
		Enabled: true,
	}
	require.NoError(t, e.AddRule(ctx, rule))

	fact := &types.Fact{ID: 1, ExternalID: "emp-1", Fields: map[string]factvalue.Value{"hours": factvalue.Int(45)}}
	_, err := e.ProcessFacts(ctx, []*types.Fact{fact})
	require.NoError(t, err)

	stats := e.GetStats()
	require.Equal(t, 1, stats.RuleCount)
	require.Equal(t, 1, stats.FactCount)
	require.Positive(t, stats.NodeCount)
	require.GreaterOrEqual(t, stats.MemoryUsageBytes, int64(0))

	found, ok := e.LookupFactByID("emp-1")
	require.True(t, ok)
	require.Equal(t, types.FactID(1), found.ID)

	_, ok = e.LookupFactByID("does-not-exist")
	require.False(t, ok)

	e.ClearFacts()
	require.Equal(t, 0, e.GetStats().FactCount)
	require.Equal(t, 1, e.GetStats().RuleCount)

	e.Clear()
	stats = e.GetStats()
	require.Equal(t, 0, stats.RuleCount)
	require.Equal(t, 0, stats.FactCount)
	require.Equal(t, 0, stats.NodeCount)
}

// TestConfigureMemoryPressureTriggersShrink verifies ConfigureMemoryPressure
// wires into the memory coordinator so a reported usage above threshold
// triggers a shrink pass without erroring the processing cycle.
func TestConfigureMemoryPressureTriggersShrink(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	e.ConfigureMemoryPressure(1) // any nonzero usage crosses this threshold

	rule := &types.Rule{
		ID:   1,
		Name: "overtime",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "hours", Operator: types.OpGreaterThan, Value: factvalue.Int(40)},
		},
		Actions: []types.Action{types.LogAction{Message: "overtime"}},
		Enabled: true,
	}
	require.NoError(t, e.AddRule(ctx, rule))

	_, err := e.ProcessFacts(ctx, []*types.Fact{hoursFact(1, 50)})
	require.NoError(t, err)
	require.Positive(t, e.coord.Usage())
	require.True(t, e.coord.CheckPressure(), "reported usage above the threshold must trigger a shrink pass")
}

// TestAddRuleRejectsInvalidRule exercises Validate failing before
// compilation.
func TestAddRuleRejectsInvalidRule(t *testing.T) {
	e := newTestEngine()
	err := e.AddRule(context.Background(), &types.Rule{ID: 1, Name: "no-conditions", Actions: []types.Action{types.LogAction{Message: "x"}}})
	require.Error(t, err)
}

// TestRemoveRuleUnknownID exercises the not-found error path.
func TestRemoveRuleUnknownID(t *testing.T) {
	e := newTestEngine()
	require.Error(t, e.RemoveRule(99))
}
