package ruleio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

func sampleRule() *types.Rule {
	return &types.Rule{
		ID:   1,
		Name: "overtime",
		Conditions: []types.Condition{
			types.SimpleCondition{Field: "hours", Operator: types.OpGreaterThan, Value: factvalue.Int(40)},
		},
		Actions: []types.Action{
			types.SetFieldAction{Field: "flagged", Value: factvalue.Bool(true)},
		},
		Priority: 5,
		Enabled:  true,
	}
}

func TestSaveAndLoadJSONRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.rules.json")
	rule := sampleRule()

	require.NoError(t, SaveJSON(path, []*types.Rule{rule}))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, rule.Name, loaded[0].Name)
	require.Equal(t, rule.Priority, loaded[0].Priority)
	require.Len(t, loaded[0].Conditions, 1)
	simple, ok := loaded[0].Conditions[0].(types.SimpleCondition)
	require.True(t, ok)
	require.Equal(t, "hours", simple.Field)
	require.Equal(t, types.OpGreaterThan, simple.Operator)
}

func TestLoadTOMLBridgesTaggedUnions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.rules.toml")
	content := `
[[rules]]
id = 1
name = "overtime"
priority = 5
enabled = true

[[rules.conditions]]
kind = "simple"
[rules.conditions.body]
field = "hours"
operator = "GreaterThan"
[rules.conditions.body.value]
type = "integer"
value = 40

[[rules.actions]]
kind = "set_field"
[rules.actions.body]
field = "flagged"
[rules.actions.body.value]
type = "boolean"
value = true
`
	require.NoError(t, writeFile(path, content))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "overtime", loaded[0].Name)
	require.Len(t, loaded[0].Conditions, 1)
	simple, ok := loaded[0].Conditions[0].(types.SimpleCondition)
	require.True(t, ok)
	require.Equal(t, "hours", simple.Field)
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, writeFile(path, "{}"))
	_, err := LoadFile(path)
	require.Error(t, err)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
