// Package ruleerrors implements the error taxonomy of §7: every error the
// engine surfaces carries a Kind, a Severity, a Recoverable flag, and a
// structured Context bag, while still composing with the standard
// library's errors.Is/errors.As via Unwrap.
package ruleerrors

import "fmt"

// Kind identifies the category of error, matching §7's table.
type Kind string

const (
	KindRule          Kind = "rule"
	KindCondition     Kind = "condition"
	KindFactStore     Kind = "fact_store"
	KindReteNetwork   Kind = "rete_network"
	KindCalculator    Kind = "calculator"
	KindAggregation   Kind = "aggregation"
	KindMemory        Kind = "memory"
	KindSerialization Kind = "serialization"
	KindConfiguration Kind = "configuration"
	KindPerformance   Kind = "performance"
	KindExternal      Kind = "external"
	KindInternal      Kind = "internal"
)

// Severity ranks how serious an error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the single structured error type used across the engine.
type Error struct {
	Kind        Kind
	Severity    Severity
	Recoverable bool
	Message     string
	Context     map[string]any
	cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// WithContext merges additional context keys onto the error and returns
// it for chaining.
func (e *Error) WithContext(kv map[string]any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		e.Context[k] = v
	}
	return e
}

func newError(kind Kind, severity Severity, recoverable bool, cause error, msg string, ctx map[string]any) *Error {
	return &Error{Kind: kind, Severity: severity, Recoverable: recoverable, Message: msg, Context: ctx, cause: cause}
}

// NewRuleError reports a rule compilation/validation failure.
// Context: rule_id, rule_name.
func NewRuleError(ruleID uint64, ruleName, msg string, cause error) *Error {
	return newError(KindRule, SeverityMedium, false, cause, msg, map[string]any{
		"rule_id": ruleID, "rule_name": ruleName,
	})
}

// NewConditionError reports a simple-condition parse/validate failure.
// Context: field, operator, value.
func NewConditionError(field, operator string, value any, msg string, cause error) *Error {
	return newError(KindCondition, SeverityMedium, false, cause, msg, map[string]any{
		"field": field, "operator": operator, "value": value,
	})
}

// NewFactStoreError reports a fact store lookup/insert/update/remove
// failure. Context: fact_id, operation.
func NewFactStoreError(factID uint64, operation, msg string, cause error) *Error {
	return newError(KindFactStore, SeverityMedium, true, cause, msg, map[string]any{
		"fact_id": factID, "operation": operation,
	})
}

// NewReteNetworkError reports a network-level invariant violation.
// Context: node_type, state. These are structural errors that abort the
// evaluation cycle per §7's propagation policy.
func NewReteNetworkError(nodeType, state, msg string, cause error) *Error {
	return newError(KindReteNetwork, SeverityHigh, false, cause, msg, map[string]any{
		"node_type": nodeType, "state": state,
	})
}

// NewCalculatorError reports a calculator expression evaluation failure.
// Context: expression, variable, operation.
func NewCalculatorError(expression, variable, operation, msg string, cause error) *Error {
	return newError(KindCalculator, SeverityLow, true, cause, msg, map[string]any{
		"expression": expression, "variable": variable, "operation": operation,
	})
}

// NewAggregationError reports a group/filter/extract failure.
// Context: aggregation_type, source_field.
func NewAggregationError(aggregationType, sourceField, msg string, cause error) *Error {
	return newError(KindAggregation, SeverityLow, true, cause, msg, map[string]any{
		"aggregation_type": aggregationType, "source_field": sourceField,
	})
}

// NewMemoryError reports a pool/cache allocation failure.
// Context: pool_type, requested, available. Structural: aborts the cycle.
func NewMemoryError(poolType string, requested, available int, msg string, cause error) *Error {
	return newError(KindMemory, SeverityCritical, false, cause, msg, map[string]any{
		"pool_type": poolType, "requested": requested, "available": available,
	})
}

// NewSerializationError reports a value<->JSON round-trip failure.
// Context: data_type, operation.
func NewSerializationError(dataType, operation, msg string, cause error) *Error {
	return newError(KindSerialization, SeverityMedium, true, cause, msg, map[string]any{
		"data_type": dataType, "operation": operation,
	})
}

// NewConfigurationError reports invalid engine/cache settings.
// Context: setting, expected, actual.
func NewConfigurationError(setting string, expected, actual any, msg string) *Error {
	return newError(KindConfiguration, SeverityHigh, false, nil, msg, map[string]any{
		"setting": setting, "expected": expected, "actual": actual,
	})
}

// NewPerformanceError reports a deadline exceeded.
// Context: operation, duration_ms, limit_ms.
func NewPerformanceError(operation string, durationMS, limitMS int64) *Error {
	return newError(KindPerformance, SeverityMedium, true, nil,
		"deadline exceeded", map[string]any{
			"operation": operation, "duration_ms": durationMS, "limit_ms": limitMS,
		})
}

// NewExternalError reports an I/O or unsupported-function failure from an
// external collaborator (e.g. a registered calculator). Context: service.
func NewExternalError(service, msg string, cause error) *Error {
	return newError(KindExternal, SeverityMedium, true, cause, msg, map[string]any{
		"service": service,
	})
}

// NewInternalError is the safety-net for bugs. Context: component.
func NewInternalError(component, msg string, cause error) *Error {
	return newError(KindInternal, SeverityCritical, false, cause, msg, map[string]any{
		"component": component,
	})
}
