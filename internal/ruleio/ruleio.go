// Package ruleio loads and saves rule sets from JSON or TOML files,
// detecting the format by extension exactly as
// internal/formula/parser.go's ParseFile detects .formula.json vs
// .formula.toml.
package ruleio

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ledgerrules/rete/internal/types"
)

// Rule file extensions, using the dotted double-extension
// convention (internal/formula.FormulaExtTOML/FormulaExtJSON).
const (
	ExtJSON = ".rules.json"
	ExtTOML = ".rules.toml"
)

// ruleSetJSON is the on-disk JSON container: a batch of rules under a
// single "rules" key, plural because a single config file typically describes a
// whole policy rather than one rule.
type ruleSetJSON struct {
	Rules []types.Rule `json:"rules"`
}

// ruleSetTOML mirrors ruleSetJSON's shape but with each rule left as a
// generic map, since Condition/Action are JSON tagged unions
// (types.Rule.UnmarshalJSON) with no native TOML decoder; parseTOML
// bridges the two by re-marshaling each generic rule table to JSON and
// decoding it through the same tagged-union codec JSON rule files use,
// so there is exactly one deserialization path for the sum types
// regardless of which file format a rule arrived in — the same
// Parse/ParseTOML split producing one *Formula type
// from two decoders upstream of it.
type ruleSetTOML struct {
	Rules []map[string]any `toml:"rules"`
}

// LoadFile reads a rule set file and returns its rules. path's
// extension selects the decoder; any other extension is an error named
// after both supported extensions.
func LoadFile(path string) ([]*types.Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied, the CLI's whole job is reading rule files
	if err != nil {
		return nil, fmt.Errorf("ruleio: read %s: %w", path, err)
	}
	switch {
	case strings.HasSuffix(path, ExtTOML):
		return parseTOML(data)
	case strings.HasSuffix(path, ExtJSON):
		return parseJSON(data)
	default:
		return nil, fmt.Errorf("ruleio: %s has unrecognized extension (want %s or %s)", path, ExtJSON, ExtTOML)
	}
}

func parseJSON(data []byte) ([]*types.Rule, error) {
	var set ruleSetJSON
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("ruleio: json: %w", err)
	}
	return toPointers(set.Rules), nil
}

func parseTOML(data []byte) ([]*types.Rule, error) {
	var generic ruleSetTOML
	if err := toml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("ruleio: toml: %w", err)
	}
	rules := make([]*types.Rule, 0, len(generic.Rules))
	for i, raw := range generic.Rules {
		jsonBytes, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("ruleio: rule %d: %w", i, err)
		}
		var r types.Rule
		if err := json.Unmarshal(jsonBytes, &r); err != nil {
			return nil, fmt.Errorf("ruleio: rule %d: %w", i, err)
		}
		rules = append(rules, &r)
	}
	return rules, nil
}

func toPointers(rules []types.Rule) []*types.Rule {
	out := make([]*types.Rule, len(rules))
	for i := range rules {
		r := rules[i]
		out[i] = &r
	}
	return out
}

// SaveJSON writes rules to path as a JSON rule set. TOML is
// deliberately not a supported write format: the generic-map bridge
// parseTOML relies on only needs to run one direction, and hand-editing
// is TOML's whole reason for being read in the first place.
func SaveJSON(path string, rules []*types.Rule) error {
	set := ruleSetJSON{Rules: make([]types.Rule, len(rules))}
	for i, r := range rules {
		set.Rules[i] = *r
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("ruleio: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // rule files are not secrets
		return fmt.Errorf("ruleio: write %s: %w", path, err)
	}
	return nil
}
