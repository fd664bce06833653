package types

import (
	"encoding/json"
	"fmt"
)

// RuleID uniquely identifies a rule within an engine instance.
type RuleID uint64

// Rule is a named condition/action pair with a firing priority. Higher
// Priority rules are offered conflict resolution first when more than one
// rule is eligible to fire on the same cycle (§4.3.2).
//
// Conditions is an ordered sequence, per §3: each entry becomes one link
// in the rule's alpha/beta chain at compile time (§4.3.1). Empty
// Conditions is rejected by Validate, matching "Empty conditions are
// rejected at compile time."
type Rule struct {
	ID         RuleID      `json:"id"`
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	Priority   int         `json:"priority"`
	Enabled    bool        `json:"enabled"`
}

// Validate checks the structural requirements a rule must satisfy before
// it can be compiled into the network: a name, at least one condition,
// and at least one action.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("types: rule %d has no name", r.ID)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("types: rule %q has no conditions", r.Name)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("types: rule %q has no actions", r.Name)
	}
	return nil
}

// ruleWire is Rule's JSON projection: Conditions/Actions are sum-typed,
// so they round-trip through their own tagged-union codecs rather than
// relying on encoding/json's default struct marshaling.
type ruleWire struct {
	ID         RuleID            `json:"id"`
	Name       string            `json:"name"`
	Conditions []json.RawMessage `json:"conditions"`
	Actions    []json.RawMessage `json:"actions"`
	Priority   int               `json:"priority"`
	Enabled    bool              `json:"enabled"`
}

// MarshalJSON implements json.Marshaler.
func (r Rule) MarshalJSON() ([]byte, error) {
	conds := make([]json.RawMessage, len(r.Conditions))
	for i, c := range r.Conditions {
		b, err := MarshalCondition(c)
		if err != nil {
			return nil, fmt.Errorf("types: marshal rule %q condition %d: %w", r.Name, i, err)
		}
		conds[i] = b
	}
	actions, err := MarshalActions(r.Actions)
	if err != nil {
		return nil, fmt.Errorf("types: marshal rule %q actions: %w", r.Name, err)
	}
	return json.Marshal(ruleWire{
		ID: r.ID, Name: r.Name, Conditions: conds, Actions: actions,
		Priority: r.Priority, Enabled: r.Enabled,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var wire ruleWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("types: unmarshal rule: %w", err)
	}
	conds := make([]Condition, len(wire.Conditions))
	for i, raw := range wire.Conditions {
		c, err := UnmarshalCondition(raw)
		if err != nil {
			return fmt.Errorf("types: unmarshal rule %q condition %d: %w", wire.Name, i, err)
		}
		conds[i] = c
	}
	actions, err := UnmarshalActions(wire.Actions)
	if err != nil {
		return fmt.Errorf("types: unmarshal rule %q actions: %w", wire.Name, err)
	}
	r.ID, r.Name, r.Conditions, r.Actions = wire.ID, wire.Name, conds, actions
	r.Priority, r.Enabled = wire.Priority, wire.Enabled
	return nil
}
