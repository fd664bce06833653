package types

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerrules/rete/internal/factvalue"
)

// Action is the sum type of §3: the nine mutation/notification/compute
// variants a rule can trigger when it fires. Like Condition, dispatch is
// by type switch in the executor, not by an interface method.
//
// SetField, IncrementField, AppendToArray, CallCalculator, and Formula
// all operate on the fact bound during matching (the "current" fact of
// the firing) — there is no explicit fact id on these variants. Only
// UpdateFact and DeleteFact address a different fact, resolved by
// reading FactIDField off the current fact's bindings at firing time.
type Action interface {
	isAction()
}

// SetFieldAction sets Field to Value on the current fact.
type SetFieldAction struct {
	Field string          `json:"field"`
	Value factvalue.Value `json:"value"`
}

func (SetFieldAction) isAction() {}

// UpdateFactAction replaces the fields named in Updates on the fact whose
// id is read from the current fact's field named FactIDField. FactIDField
// must resolve to an integer-typed value; see the Open Question
// resolution in DESIGN.md for the error behavior when it does not.
type UpdateFactAction struct {
	FactIDField string                     `json:"fact_id_field"`
	Updates     map[string]factvalue.Value `json:"updates"`
}

func (UpdateFactAction) isAction() {}

// DeleteFactAction retracts the fact whose id is read from the current
// fact's field named FactIDField.
type DeleteFactAction struct {
	FactIDField string `json:"fact_id_field"`
}

func (DeleteFactAction) isAction() {}

// IncrementFieldAction adds Increment to the numeric field Field on the
// current fact. The result is type-preserving: incrementing an
// Integer-kinded field by an Integer-kinded Increment yields an Integer;
// any Float operand widens the result to Float.
type IncrementFieldAction struct {
	Field     string          `json:"field"`
	Increment factvalue.Value `json:"increment"`
}

func (IncrementFieldAction) isAction() {}

// AppendToArrayAction appends Value to the array field Field on the
// current fact. It fails (as an ErrorResult) if Field is not an array.
type AppendToArrayAction struct {
	Field string          `json:"field"`
	Value factvalue.Value `json:"value"`
}

func (AppendToArrayAction) isAction() {}

// LogAction emits a diagnostic message at firing time; it never touches
// the fact store.
type LogAction struct {
	Message string `json:"message"`
}

func (LogAction) isAction() {}

// TriggerAlertAction raises a named alert, delivered through the action
// executor's Notifier (§6.1).
type TriggerAlertAction struct {
	AlertType string         `json:"alert_type"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (TriggerAlertAction) isAction() {}

// CallCalculatorAction invokes a registered calculator function by name,
// mapping current-fact fields to named calculator inputs via
// InputMapping (fact field -> input name), and writes the result onto
// OutputField of the current fact (§4.4, §6.3).
type CallCalculatorAction struct {
	CalculatorName string            `json:"calculator_name"`
	InputMapping   map[string]string `json:"input_mapping"`
	OutputField    string            `json:"output_field"`
}

func (CallCalculatorAction) isAction() {}

// FormulaAction evaluates a calculator-DSL expression string and writes
// the result onto TargetField of the current fact. SourceCalculator, if
// non-empty, names a registered calculator whose built-in function table
// the expression may call into (§4.4).
type FormulaAction struct {
	TargetField      string `json:"target_field"`
	Expression       string `json:"expression"`
	SourceCalculator string `json:"source_calculator,omitempty"`
}

func (FormulaAction) isAction() {}

// --- JSON tagged-union envelope -------------------------------------------

type actionEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// MarshalAction serializes any Action variant into its tagged envelope.
func MarshalAction(a Action) ([]byte, error) {
	var kind string
	switch a.(type) {
	case SetFieldAction:
		kind = "set_field"
	case UpdateFactAction:
		kind = "update_fact"
	case DeleteFactAction:
		kind = "delete_fact"
	case IncrementFieldAction:
		kind = "increment_field"
	case AppendToArrayAction:
		kind = "append_to_array"
	case LogAction:
		kind = "log"
	case TriggerAlertAction:
		kind = "trigger_alert"
	case CallCalculatorAction:
		kind = "call_calculator"
	case FormulaAction:
		kind = "formula"
	default:
		return nil, fmt.Errorf("types: unknown action variant %T", a)
	}
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("types: marshal action body: %w", err)
	}
	return json.Marshal(actionEnvelope{Kind: kind, Body: body})
}

// UnmarshalAction parses a tagged action envelope into a concrete Action.
func UnmarshalAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("types: unmarshal action envelope: %w", err)
	}
	switch env.Kind {
	case "set_field":
		var v SetFieldAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "update_fact":
		var v UpdateFactAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "delete_fact":
		var v DeleteFactAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "increment_field":
		var v IncrementFieldAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "append_to_array":
		var v AppendToArrayAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "log":
		var v LogAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "trigger_alert":
		var v TriggerAlertAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "call_calculator":
		var v CallCalculatorAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	case "formula":
		var v FormulaAction
		err := unmarshalInto(env.Body, &v)
		return v, err
	default:
		return nil, fmt.Errorf("types: unknown action kind %q", env.Kind)
	}
}

func unmarshalInto[T any](data json.RawMessage, out *T) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("types: unmarshal action body: %w", err)
	}
	return nil
}

// MarshalActions and UnmarshalActions handle the []Action slices embedded
// in Rule.
func MarshalActions(actions []Action) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(actions))
	for i, a := range actions {
		b, err := MarshalAction(a)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func UnmarshalActions(raw []json.RawMessage) ([]Action, error) {
	out := make([]Action, len(raw))
	for i, r := range raw {
		a, err := UnmarshalAction(r)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
