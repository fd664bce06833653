package types

import (
	"time"

	"github.com/ledgerrules/rete/internal/factvalue"
)

// ActionResult is the sum type describing the outcome of executing a
// single Action. Every variant except NotificationSentResult is
// produced by internal/action's executor; a failed action always produces an
// ErrorResult rather than propagating, so one bad action in a rule
// never prevents the rest of the rule's actions from running (§4.7).
type ActionResult interface {
	isActionResult()
}

// FactUpdatedResult reports a successful SetFieldAction or UpdateFactAction.
type FactUpdatedResult struct {
	FactID         FactID   `json:"fact_id"`
	UpdatedFields  []string `json:"updated_fields"`
}

func (FactUpdatedResult) isActionResult() {}

// FactDeletedResult reports a successful DeleteFactAction.
type FactDeletedResult struct {
	FactID FactID `json:"fact_id"`
}

func (FactDeletedResult) isActionResult() {}

// FieldIncrementedResult reports a successful IncrementFieldAction.
type FieldIncrementedResult struct {
	FactID   FactID  `json:"fact_id"`
	Field    string  `json:"field"`
	OldValue float64 `json:"old_value"`
	NewValue float64 `json:"new_value"`
}

func (FieldIncrementedResult) isActionResult() {}

// ArrayAppendedResult reports a successful AppendToArrayAction.
type ArrayAppendedResult struct {
	FactID   FactID `json:"fact_id"`
	Field    string `json:"field"`
	NewLength int   `json:"new_length"`
}

func (ArrayAppendedResult) isActionResult() {}

// LoggedResult reports a successful LogAction.
type LoggedResult struct {
	Message string `json:"message"`
}

func (LoggedResult) isActionResult() {}

// NotificationSentResult describes delivery of a TriggerAlertAction's
// alert to one channel (distinct from AlertTriggeredResult, which
// reports the alert's own bookkeeping). The action executor does not
// produce it: triggerAlert returns only an AlertTriggeredResult and
// discards the channels the Notifier reports.
type NotificationSentResult struct {
	Channel   string `json:"channel"`
	AlertType string `json:"alert_type"`
}

func (NotificationSentResult) isActionResult() {}

// AlertTriggeredResult reports a successful TriggerAlertAction.
type AlertTriggeredResult struct {
	AlertType string         `json:"alert_type"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	FiredAt   time.Time      `json:"fired_at"`
}

func (AlertTriggeredResult) isActionResult() {}

// CalculatorResultResult reports a successful CallCalculatorAction or
// FormulaAction: the computed Value, written onto Field of FactID.
type CalculatorResultResult struct {
	FactID FactID          `json:"fact_id"`
	Field  string          `json:"field"`
	Value  factvalue.Value `json:"value"`
}

func (CalculatorResultResult) isActionResult() {}

// ErrorResult reports that one action in a rule's action list failed;
// see internal/ruleerrors for the wrapped error's structure.
type ErrorResult struct {
	ActionIndex int    `json:"action_index"`
	Message     string `json:"message"`
}

func (ErrorResult) isActionResult() {}

// RuleExecutionResult is the outcome of firing a single rule: the
// matched fact bindings and the per-action results, in action order.
type RuleExecutionResult struct {
	RuleID    RuleID         `json:"rule_id"`
	RuleName  string         `json:"rule_name"`
	MatchedAt time.Time      `json:"matched_at"`
	Results   []ActionResult `json:"results"`
}

// Succeeded reports whether every action in the firing produced a
// non-error result.
func (r RuleExecutionResult) Succeeded() bool {
	for _, res := range r.Results {
		if _, failed := res.(ErrorResult); failed {
			return false
		}
	}
	return true
}

// EngineStats summarizes a processing cycle for observability (§6.1).
// internal/engine does not populate it; Engine.GetStats reports its own
// engine.Stats shape instead.
type EngineStats struct {
	FactsProcessed   uint64        `json:"facts_processed"`
	RulesFired       uint64        `json:"rules_fired"`
	ActionsExecuted  uint64        `json:"actions_executed"`
	ActionErrors     uint64        `json:"action_errors"`
	ProcessingTime   time.Duration `json:"processing_time"`
	NodesEvaluated   uint64        `json:"nodes_evaluated"`
	NodesSkipped     uint64        `json:"nodes_skipped"`
}
