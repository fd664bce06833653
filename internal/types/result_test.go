package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRuleExecutionResultSucceeded(t *testing.T) {
	ok := RuleExecutionResult{
		RuleID: 1, RuleName: "r1", MatchedAt: time.Now(),
		Results: []ActionResult{
			FactUpdatedResult{FactID: 1, UpdatedFields: []string{"status"}},
			LoggedResult{Message: "done"},
		},
	}
	assert.True(t, ok.Succeeded())

	withErr := ok
	withErr.Results = append(withErr.Results, ErrorResult{ActionIndex: 2, Message: "boom"})
	assert.False(t, withErr.Succeeded())
}
