package factvalue

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireValue is the canonical JSON tagged representation described in
// §6.2: {"type": "...", "value": ...}.
type wireValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements the §6.2 wire format.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.kind.String()}
	var raw any
	switch v.kind {
	case KindNull:
		return json.Marshal(wireValue{Type: "null"})
	case KindBoolean:
		raw = v.b
	case KindInteger:
		raw = v.i
	case KindFloat:
		raw = v.f
	case KindString:
		raw = v.s
	case KindDate:
		raw = v.t.UTC().Format(time.RFC3339Nano)
	case KindArray:
		raw = v.arr
	case KindObject:
		raw = v.obj
	default:
		return nil, fmt.Errorf("factvalue: marshal: unknown kind %d", v.kind)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("factvalue: marshal %s: %w", v.kind, err)
	}
	w.Value = b
	return json.Marshal(w)
}

// UnmarshalJSON implements the §6.2 wire format.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("factvalue: unmarshal envelope: %w", err)
	}
	switch w.Type {
	case "null", "":
		*v = Null()
		return nil
	case "boolean":
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("factvalue: unmarshal boolean: %w", err)
		}
		*v = Bool(b)
	case "integer":
		var i int64
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return fmt.Errorf("factvalue: unmarshal integer: %w", err)
		}
		*v = Int(i)
	case "float":
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return fmt.Errorf("factvalue: unmarshal float: %w", err)
		}
		*v = Float(f)
	case "string":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("factvalue: unmarshal string: %w", err)
		}
		*v = String(s)
	case "date":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("factvalue: unmarshal date: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			t, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("factvalue: parse RFC3339 date %q: %w", s, err)
			}
		}
		*v = Date(t)
	case "array":
		var arr []Value
		if err := json.Unmarshal(w.Value, &arr); err != nil {
			return fmt.Errorf("factvalue: unmarshal array: %w", err)
		}
		*v = Array(arr)
	case "object":
		var obj map[string]Value
		if err := json.Unmarshal(w.Value, &obj); err != nil {
			return fmt.Errorf("factvalue: unmarshal object: %w", err)
		}
		*v = Object(obj)
	default:
		return fmt.Errorf("factvalue: unknown type tag %q", w.Type)
	}
	return nil
}

// FromAny converts a generic Go value (as produced by json.Unmarshal into
// interface{}, or passed programmatically) into a Value. Used by the
// calculator and by untagged JSON ingestion paths.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case time.Time:
		return Date(t), nil
	case []any:
		vals := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			vals[i] = v
		}
		return Array(vals), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("factvalue: cannot convert %T to Value", x)
	}
}
