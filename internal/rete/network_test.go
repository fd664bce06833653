package rete

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerrules/rete/internal/factstore"
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

func insertFact(t *testing.T, store factstore.Store, fields map[string]factvalue.Value) *types.Fact {
	t.Helper()
	f := &types.Fact{Fields: fields}
	id, err := store.Insert(f)
	require.NoError(t, err)
	f.ID = id
	return f
}

func simpleRule(id types.RuleID, name, field string, op types.Operator, val factvalue.Value) *types.Rule {
	return &types.Rule{
		ID:   id,
		Name: name,
		Conditions: []types.Condition{
			types.SimpleCondition{Field: field, Operator: op, Value: val},
		},
		Actions: []types.Action{
			types.SetFieldAction{Field: "flagged", Value: factvalue.Bool(true)},
		},
		Enabled: true,
	}
}

// TestSingleConditionFiring exercises scenario S1: a single-condition
// rule should fire once per matching fact and not at all for
// non-matching facts.
func TestSingleConditionFiring(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	rule := simpleRule(1, "high-hours", "hours", types.OpGreaterThan, factvalue.Int(40))
	require.NoError(t, net.AddRule(rule))

	f1 := insertFact(t, store, map[string]factvalue.Value{"hours": factvalue.Int(50)})
	f2 := insertFact(t, store, map[string]factvalue.Value{"hours": factvalue.Int(10)})
	f3 := insertFact(t, store, map[string]factvalue.Value{"hours": factvalue.Int(41)})

	firings := net.ProcessFacts([]*types.Fact{f1, f2, f3})

	matched := map[types.FactID]bool{}
	for _, fr := range firings {
		require.Equal(t, types.RuleID(1), fr.RuleID)
		require.Len(t, fr.Token.Facts, 1)
		matched[fr.Token.Facts[0]] = true
	}
	require.True(t, matched[f1.ID])
	require.True(t, matched[f3.ID])
	require.False(t, matched[f2.ID])
	require.Len(t, firings, 2)
}

// TestCurrentMatchesSurvivesUnchangedReprocessing exercises invariant 2:
// a rule's match stays visible via CurrentMatches on a cycle that
// ingests nothing new, for both an alpha-fed terminal (single
// condition) and a beta-fed terminal (multi-condition join) — since
// ProcessFacts's own pending-firing queue only reports what was just
// admitted this call, while CurrentMatches reads the network's
// persistent match state directly.
func TestCurrentMatchesSurvivesUnchangedReprocessing(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	single := simpleRule(1, "high-hours", "hours", types.OpGreaterThan, factvalue.Int(40))
	require.NoError(t, net.AddRule(single))

	joined := &types.Rule{
		ID:   2,
		Name: "overtime-and-region",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "hours", Operator: types.OpGreaterThan, Value: factvalue.Int(40)},
			types.SimpleCondition{Field: "region", Operator: types.OpEqual, Value: factvalue.String("EU")},
		},
		Actions: []types.Action{types.LogAction{Message: "overtime in region"}},
		Enabled: true,
	}
	require.NoError(t, net.AddRule(joined))

	f1 := insertFact(t, store, map[string]factvalue.Value{"hours": factvalue.Int(50)})
	f2 := insertFact(t, store, map[string]factvalue.Value{"region": factvalue.String("EU")})
	net.ProcessFacts([]*types.Fact{f1, f2})

	matches := net.CurrentMatches()

	byRule := map[types.RuleID]int{}
	for _, m := range matches {
		byRule[m.RuleID]++
	}
	require.Equal(t, 1, byRule[1])
	require.Equal(t, 1, byRule[2])

	// A second call with no new facts must report the same matches, not
	// an empty set, since the pending-firing queue ProcessFacts drains is
	// empty this time.
	again := net.CurrentMatches()
	require.Len(t, again, len(matches))
}

// TestNodeSharingAcrossRules exercises scenario S2: three rules sharing
// an identical first condition should compile to one alpha node, with
// the registry reporting two shares and one active node.
func TestNodeSharingAcrossRules(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	for i := types.RuleID(1); i <= 3; i++ {
		r := simpleRule(i, "rule", "department", types.OpEqual, factvalue.String("sales"))
		require.NoError(t, net.AddRule(r))
	}

	stats := net.GetStats()
	require.Equal(t, 1, stats.AlphaNodeCount)
	require.Equal(t, 3, stats.TerminalNodeCount)
	require.Equal(t, 2, stats.Sharing.AlphaSharesFound)
	require.Equal(t, 1, stats.Sharing.AlphaNodesActive)
}

// TestAddRemoveRuleSymmetry exercises invariant 1: removing every added
// rule returns the network to its empty state.
func TestAddRemoveRuleSymmetry(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	r1 := simpleRule(1, "a", "x", types.OpEqual, factvalue.Int(1))
	r2 := simpleRule(2, "b", "x", types.OpEqual, factvalue.Int(1))
	require.NoError(t, net.AddRule(r1))
	require.NoError(t, net.AddRule(r2))

	require.NoError(t, net.RemoveRule(1))
	require.NoError(t, net.RemoveRule(2))

	stats := net.GetStats()
	require.Equal(t, 0, stats.AlphaNodeCount)
	require.Equal(t, 0, stats.BetaNodeCount)
	require.Equal(t, 0, stats.TerminalNodeCount)
	require.Equal(t, 0, stats.Sharing.AlphaNodesActive)
}

// TestMultiConditionJoinFiresOnlyWhenBothFactsPresent exercises the
// beta-join path (§4.3.1/§4.3.2): a two-condition rule whose conditions
// share no field compiles to a cross-product beta and fires once per
// pair of facts independently satisfying each condition.
func TestMultiConditionJoinFiresOnlyWhenBothFactsPresent(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	rule := &types.Rule{
		ID:   1,
		Name: "overtime-and-region",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "hours", Operator: types.OpGreaterThan, Value: factvalue.Int(40)},
			types.SimpleCondition{Field: "region", Operator: types.OpEqual, Value: factvalue.String("EU")},
		},
		Actions: []types.Action{types.LogAction{Message: "overtime in region"}},
		Enabled: true,
	}
	require.NoError(t, net.AddRule(rule))

	overtime := insertFact(t, store, map[string]factvalue.Value{"hours": factvalue.Int(45)})
	firings := net.ProcessFacts([]*types.Fact{overtime})
	require.Empty(t, firings)

	region := insertFact(t, store, map[string]factvalue.Value{"region": factvalue.String("EU")})
	firings = net.ProcessFacts([]*types.Fact{region})
	require.Len(t, firings, 1)
	require.ElementsMatch(t, []types.FactID{overtime.ID, region.ID}, firings[0].Token.Facts)
}

// TestJoinOnSharedField exercises deriveJoinConditions: two conditions
// that both name the same field produce a beta node with a non-empty
// JoinConditions list, rather than the cross-product empty list used
// when conditions share no field.
func TestJoinOnSharedField(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	rule := &types.Rule{
		ID:   1,
		Name: "paired-by-team",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "team", Operator: types.OpEqual, Value: factvalue.String("red")},
			types.SimpleCondition{Field: "team", Operator: types.OpEqual, Value: factvalue.String("red")},
		},
		Actions: []types.Action{types.LogAction{Message: "paired"}},
		Enabled: true,
	}
	require.NoError(t, net.AddRule(rule))

	cr := net.rules[1]
	require.Len(t, cr.BetaSteps, 1)
	require.NotEmpty(t, cr.BetaSteps[0].JoinConds)
	require.Equal(t, "team", cr.BetaSteps[0].JoinConds[0].LeftField)

	f1 := insertFact(t, store, map[string]factvalue.Value{"team": factvalue.String("red")})
	firings := net.ProcessFacts([]*types.Fact{f1})
	require.NotEmpty(t, firings)
}

// TestFloatEpsilonLoosensEquality verifies SetFloatEpsilon: a condition
// that would fail strict bitwise equality matches once a tolerance wide
// enough to absorb the difference is configured.
func TestFloatEpsilonLoosensEquality(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	rule := simpleRule(1, "near-target", "ratio", types.OpEqual, factvalue.Float(1.0))
	require.NoError(t, net.AddRule(rule))

	almost := insertFact(t, store, map[string]factvalue.Value{"ratio": factvalue.Float(1.0 + 1e-12)})

	firings := net.ProcessFacts([]*types.Fact{almost})
	require.Empty(t, firings, "strict equality must not match a bitwise-different float")

	net.SetFloatEpsilon(1e-9)
	firings = net.ProcessFacts([]*types.Fact{almost})
	require.Len(t, firings, 1, "a wide enough epsilon must match")
}

// TestRetractionRemovesToken verifies that retracting a fact removes any
// beta token it participated in, so a later fact that would have
// completed the join no longer fires.
func TestRetractionRemovesToken(t *testing.T) {
	store := factstore.NewHashMap()
	net := NewNetwork(store)

	rule := &types.Rule{
		ID:   1,
		Name: "two-step",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "a", Operator: types.OpEqual, Value: factvalue.Bool(true)},
			types.SimpleCondition{Field: "b", Operator: types.OpEqual, Value: factvalue.Bool(true)},
		},
		Actions: []types.Action{types.LogAction{Message: "joined"}},
		Enabled: true,
	}
	require.NoError(t, net.AddRule(rule))

	left := insertFact(t, store, map[string]factvalue.Value{"a": factvalue.Bool(true)})
	net.ProcessFacts([]*types.Fact{left})

	net.RemoveFact(left.ID)
	store.Remove(left.ID)

	right := insertFact(t, store, map[string]factvalue.Value{"b": factvalue.Bool(true)})
	firings := net.ProcessFacts([]*types.Fact{right})
	require.Empty(t, firings)
}
