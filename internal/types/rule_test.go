package types

import (
	"encoding/json"
	"testing"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleValidateRequiresNameConditionsActions(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{"missing name", Rule{Conditions: []Condition{SimpleCondition{}}, Actions: []Action{LogAction{}}}, false},
		{"missing conditions", Rule{Name: "r", Actions: []Action{LogAction{}}}, false},
		{"missing actions", Rule{Name: "r", Conditions: []Condition{SimpleCondition{}}}, false},
		{"valid", Rule{Name: "r", Conditions: []Condition{SimpleCondition{}}, Actions: []Action{LogAction{}}}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.rule.Validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRuleJSONRoundTrip(t *testing.T) {
	r := Rule{
		ID:   1,
		Name: "high value order",
		Conditions: []Condition{
			SimpleCondition{Field: "amount", Operator: OpGreaterThan, Value: factvalue.Int(1000)},
			SimpleCondition{Field: "region", Operator: OpEqual, Value: factvalue.String("east")},
		},
		Actions:  []Action{SetFieldAction{Field: "flagged", Value: factvalue.Bool(true)}},
		Priority: 5,
		Enabled:  true,
	}

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var out Rule
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, r, out)
}
