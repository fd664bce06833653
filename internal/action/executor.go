// Package action implements the action executor of §4.7: for each fired
// terminal node, run its rule's action list in order, never letting one
// action's failure abort the rest. Modeled on
// internal/eventbus/handler.go dispatch-by-type-switch shape (one
// Handle-style branch per concrete type, errors captured and reported
// rather than propagated out of the dispatch loop).
package action

import (
	"fmt"
	"time"

	"github.com/ledgerrules/rete/internal/calculator"
	"github.com/ledgerrules/rete/internal/factstore"
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/ruleerrors"
	"github.com/ledgerrules/rete/internal/types"
)

// Notifier receives TriggerAlertAction deliveries, one call per alert,
// and returns the channels that accepted it. The engine facade wires
// this to whatever subscriber mechanism it hosts (§6.1 names the server
// layer as the consumer); the core ships a no-op default.
type Notifier interface {
	Notify(alertType, message string, metadata map[string]any) (channels []string)
}

// NoopNotifier delivers to no channels. It is the executor's default
// when no Notifier is supplied.
type NoopNotifier struct{}

// Notify implements Notifier by accepting no subscribers.
func (NoopNotifier) Notify(string, string, map[string]any) []string { return nil }

// Executor runs an Action list against a bound fact, using store for
// fact mutation, calc for CallCalculator/Formula actions, and notifier
// for TriggerAlert delivery.
type Executor struct {
	store    factstore.Store
	calc     *calculator.Engine
	notifier Notifier
}

// New constructs an Executor.
func New(store factstore.Store, calc *calculator.Engine, notifier Notifier) *Executor {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Executor{store: store, calc: calc, notifier: notifier}
}

// Run executes actions against fact in order, producing one ActionResult
// per action. A failing action yields an ErrorResult and does not abort
// the remaining actions (§4.7); fact mutations the failing action
// described never take effect.
func (ex *Executor) Run(fact *types.Fact, actions []types.Action) []types.ActionResult {
	results := make([]types.ActionResult, 0, len(actions))
	for i, a := range actions {
		res, err := ex.runOne(fact, a)
		if err != nil {
			results = append(results, types.ErrorResult{ActionIndex: i, Message: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results
}

func (ex *Executor) runOne(fact *types.Fact, a types.Action) (types.ActionResult, error) {
	switch act := a.(type) {
	case types.SetFieldAction:
		return ex.setField(fact, act)
	case types.UpdateFactAction:
		return ex.updateFact(fact, act)
	case types.DeleteFactAction:
		return ex.deleteFact(fact, act)
	case types.IncrementFieldAction:
		return ex.incrementField(fact, act)
	case types.AppendToArrayAction:
		return ex.appendToArray(fact, act)
	case types.LogAction:
		return types.LoggedResult{Message: act.Message}, nil
	case types.TriggerAlertAction:
		return ex.triggerAlert(act)
	case types.CallCalculatorAction:
		return ex.callCalculator(fact, act)
	case types.FormulaAction:
		return ex.formula(fact, act)
	default:
		return nil, fmt.Errorf("action: unknown action variant %T", a)
	}
}

func (ex *Executor) setField(fact *types.Fact, act types.SetFieldAction) (types.ActionResult, error) {
	if err := ex.store.Update(fact.ID, map[string]factvalue.Value{act.Field: act.Value}); err != nil {
		return nil, fmt.Errorf("set_field %q: %w", act.Field, err)
	}
	fact.Fields[act.Field] = act.Value
	return types.FactUpdatedResult{FactID: fact.ID, UpdatedFields: []string{act.Field}}, nil
}

// updateFact resolves FactIDField against the firing fact's own
// bindings and mutates the target fact. Per the Open Question resolution
// in DESIGN.md, FactIDField must be integer-typed; any other type is an
// action-level error, not a lossy conversion.
func (ex *Executor) updateFact(fact *types.Fact, act types.UpdateFactAction) (types.ActionResult, error) {
	targetID, err := resolveFactID(fact, act.FactIDField)
	if err != nil {
		return nil, err
	}
	if err := ex.store.Update(targetID, act.Updates); err != nil {
		return nil, fmt.Errorf("update_fact %d: %w", targetID, err)
	}
	fields := make([]string, 0, len(act.Updates))
	for f := range act.Updates {
		fields = append(fields, f)
	}
	return types.FactUpdatedResult{FactID: targetID, UpdatedFields: fields}, nil
}

func (ex *Executor) deleteFact(fact *types.Fact, act types.DeleteFactAction) (types.ActionResult, error) {
	targetID, err := resolveFactID(fact, act.FactIDField)
	if err != nil {
		return nil, err
	}
	if !ex.store.Remove(targetID) {
		return nil, fmt.Errorf("delete_fact: fact %d not found", targetID)
	}
	return types.FactDeletedResult{FactID: targetID}, nil
}

func (ex *Executor) incrementField(fact *types.Fact, act types.IncrementFieldAction) (types.ActionResult, error) {
	current, ok := fact.Fields[act.Field]
	if !ok {
		current = factvalue.Int(0)
	}
	oldF, ok := current.AsFloat64()
	if !ok {
		return nil, fmt.Errorf("increment_field %q: current value is not numeric", act.Field)
	}
	incF, ok := act.Increment.AsFloat64()
	if !ok {
		return nil, fmt.Errorf("increment_field %q: increment is not numeric", act.Field)
	}

	var newVal factvalue.Value
	if current.Kind() == factvalue.KindInteger && act.Increment.Kind() == factvalue.KindInteger {
		ci, _ := current.Int()
		ii, _ := act.Increment.Int()
		newVal = factvalue.Int(ci + ii)
	} else {
		newVal = factvalue.Float(oldF + incF)
	}

	if err := ex.store.Update(fact.ID, map[string]factvalue.Value{act.Field: newVal}); err != nil {
		return nil, fmt.Errorf("increment_field %q: %w", act.Field, err)
	}
	fact.Fields[act.Field] = newVal
	newF, _ := newVal.AsFloat64()
	return types.FieldIncrementedResult{FactID: fact.ID, Field: act.Field, OldValue: oldF, NewValue: newF}, nil
}

func (ex *Executor) appendToArray(fact *types.Fact, act types.AppendToArrayAction) (types.ActionResult, error) {
	current, ok := fact.Fields[act.Field]
	if !ok {
		current = factvalue.Array(nil)
	}
	items, ok := current.Items()
	if !ok {
		return nil, fmt.Errorf("append_to_array %q: field is not an array", act.Field)
	}
	newItems := append(append([]factvalue.Value{}, items...), act.Value)
	newVal := factvalue.Array(newItems)
	if err := ex.store.Update(fact.ID, map[string]factvalue.Value{act.Field: newVal}); err != nil {
		return nil, fmt.Errorf("append_to_array %q: %w", act.Field, err)
	}
	fact.Fields[act.Field] = newVal
	return types.ArrayAppendedResult{FactID: fact.ID, Field: act.Field, NewLength: len(newItems)}, nil
}

func (ex *Executor) triggerAlert(act types.TriggerAlertAction) (types.ActionResult, error) {
	channels := ex.notifier.Notify(act.AlertType, act.Message, act.Metadata)
	_ = channels // the accepting channels are not reported; no NotificationSentResult is produced.
	return types.AlertTriggeredResult{
		AlertType: act.AlertType,
		Message:   act.Message,
		Severity:  act.Severity,
		Metadata:  act.Metadata,
		FiredAt:   time.Now().UTC(),
	}, nil
}

func (ex *Executor) callCalculator(fact *types.Fact, act types.CallCalculatorAction) (types.ActionResult, error) {
	inputs := make(map[string]factvalue.Value, len(act.InputMapping))
	for factField, inputName := range act.InputMapping {
		v, ok := fact.Fields[factField]
		if !ok {
			return nil, fmt.Errorf("call_calculator %q: fact has no field %q", act.CalculatorName, factField)
		}
		inputs[inputName] = v
	}
	result, err := ex.calc.InvokeCalculator(act.CalculatorName, inputs)
	if err != nil {
		return nil, ruleerrors.NewCalculatorError(act.CalculatorName, "", "invoke", err.Error(), err)
	}
	if err := ex.store.Update(fact.ID, map[string]factvalue.Value{act.OutputField: result}); err != nil {
		return nil, fmt.Errorf("call_calculator %q: writing output: %w", act.CalculatorName, err)
	}
	fact.Fields[act.OutputField] = result
	return types.CalculatorResultResult{FactID: fact.ID, Field: act.OutputField, Value: result}, nil
}

func (ex *Executor) formula(fact *types.Fact, act types.FormulaAction) (types.ActionResult, error) {
	ctx := make(calculator.Context, len(fact.Fields))
	for k, v := range fact.Fields {
		ctx[k] = v
	}
	result, err := ex.calc.Evaluate(act.Expression, ctx)
	if err != nil {
		return nil, ruleerrors.NewCalculatorError(act.Expression, "", "evaluate", err.Error(), err)
	}
	if err := ex.store.Update(fact.ID, map[string]factvalue.Value{act.TargetField: result}); err != nil {
		return nil, fmt.Errorf("formula: writing %q: %w", act.TargetField, err)
	}
	fact.Fields[act.TargetField] = result
	return types.CalculatorResultResult{FactID: fact.ID, Field: act.TargetField, Value: result}, nil
}

// resolveFactID reads fieldName off fact's bindings and requires it to
// be integer-typed, per the Open Question resolution in DESIGN.md.
func resolveFactID(fact *types.Fact, fieldName string) (types.FactID, error) {
	v, ok := fact.Fields[fieldName]
	if !ok {
		return 0, fmt.Errorf("fact_id_field %q not present on fact %d", fieldName, fact.ID)
	}
	i, ok := v.AsInt()
	if !ok {
		return 0, fmt.Errorf("fact_id_field %q is not integer-typed", fieldName)
	}
	return types.FactID(i), nil
}
