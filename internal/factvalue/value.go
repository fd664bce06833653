// Package factvalue implements the tagged-union scalar/compound value
// model used throughout the rules engine: fact fields, calculator
// results, and action arguments are all factvalue.Value.
package factvalue

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"
)

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindString
	KindDate
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Value is a tagged union over a fact field's possible value kinds.
// The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Int wraps a signed 64-bit integer.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Date wraps a timestamp.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }

// Array wraps a sequence of values. The slice is copied.
func Array(vals []Value) Value {
	cp := make([]Value, len(vals))
	copy(cp, vals)
	return Value{kind: KindArray, arr: cp}
}

// Object wraps a string-keyed map of values. The map is copied.
func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload and whether v is a Boolean.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBoolean }

// Int returns the integer payload and whether v is an Integer.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInteger }

// Float returns the float payload and whether v is a Float.
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

// Str returns the string payload and whether v is a String.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Time returns the date payload and whether v is a Date.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindDate }

// Items returns the array payload and whether v is an Array.
func (v Value) Items() ([]Value, bool) { return v.arr, v.kind == KindArray }

// Fields returns the object payload and whether v is an Object.
func (v Value) Fields() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// IsNumeric reports whether v is an Integer or Float.
func (v Value) IsNumeric() bool {
	return v.kind == KindInteger || v.kind == KindFloat
}

// AsFloat64 coerces an Integer or Float to float64. Returns false for any
// other kind.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// AsInt returns the integer payload and whether v is an Integer. Unlike
// AsFloat64, this does not widen Float to Integer: callers that need a
// strict integer-typed field (e.g. UpdateFactAction.FactIDField) must
// not accept a fact value that merely happens to hold a whole-number
// float.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInteger
}

// ErrIncompatibleTypes is returned by ordering comparisons (Compare) when
// the two values are of incompatible kinds. Equal/NotEqual never return
// this error; incompatible-kind comparisons resolve to
// false/true respectively.
type ErrIncompatibleTypes struct {
	Left, Right Kind
}

func (e *ErrIncompatibleTypes) Error() string {
	return fmt.Sprintf("factvalue: cannot compare %s with %s", e.Left, e.Right)
}

// Equal reports value equality. NaN is considered equal to NaN. Values of
// incompatible kinds are never equal. This never returns an error, per
// the invariant that Equal/NotEqual are total across kinds.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.b == other.b
	case KindInteger:
		return v.i == other.i
	case KindFloat:
		if math.IsNaN(v.f) && math.IsNaN(other.f) {
			return true
		}
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindDate:
		return v.t.Equal(other.t)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, val := range v.obj {
			ov, ok := other.obj[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// NotEqual is the negation of Equal.
func (v Value) NotEqual(other Value) bool { return !v.Equal(other) }

// Compare returns -1/0/1 for v </==/> other under a total order, or an
// error if the two values are of incompatible kinds (
// inequality comparisons across kinds are an error, unlike Equal/NotEqual).
// Floats compare strictly, except that NaN sorts after every other float
// and two NaNs report equal, matching the total-ordering requirement for
// deterministic sort/index use.
func (v Value) Compare(other Value) (int, error) {
	if v.kind != other.kind {
		return 0, &ErrIncompatibleTypes{Left: v.kind, Right: other.kind}
	}
	switch v.kind {
	case KindNull:
		return 0, nil
	case KindBoolean:
		if v.b == other.b {
			return 0, nil
		}
		if !v.b {
			return -1, nil
		}
		return 1, nil
	case KindInteger:
		switch {
		case v.i < other.i:
			return -1, nil
		case v.i > other.i:
			return 1, nil
		default:
			return 0, nil
		}
	case KindFloat:
		return compareFloat(v.f, other.f), nil
	case KindString:
		switch {
		case v.s < other.s:
			return -1, nil
		case v.s > other.s:
			return 1, nil
		default:
			return 0, nil
		}
	case KindDate:
		switch {
		case v.t.Before(other.t):
			return -1, nil
		case v.t.After(other.t):
			return 1, nil
		default:
			return 0, nil
		}
	case KindArray:
		n := len(v.arr)
		if len(other.arr) < n {
			n = len(other.arr)
		}
		for i := 0; i < n; i++ {
			c, err := v.arr[i].Compare(other.arr[i])
			if err != nil {
				return 0, err
			}
			if c != 0 {
				return c, nil
			}
		}
		switch {
		case len(v.arr) < len(other.arr):
			return -1, nil
		case len(v.arr) > len(other.arr):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("factvalue: %s does not support ordering", v.kind)
	}
}

func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Hash computes a stable 64-bit hash. Floats hash by IEEE-754 bit
// pattern (so -0.0 and +0.0 hash the same as their bit patterns, not as
// mathematically equal values, matching §3's requirement); objects hash
// by sorted-key traversal so field order never perturbs the hash.
func (v Value) Hash() uint64 {
	h := fnv.New64a()
	v.writeHash(h)
	return h.Sum64()
}

func (v Value) writeHash(h interface{ Write([]byte) (int, error) }) {
	writeByte(h, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBoolean:
		if v.b {
			writeByte(h, 1)
		} else {
			writeByte(h, 0)
		}
	case KindInteger:
		writeUint64(h, uint64(v.i))
	case KindFloat:
		writeUint64(h, math.Float64bits(v.f))
	case KindString:
		h.Write([]byte(v.s))
	case KindDate:
		writeUint64(h, uint64(v.t.UnixNano()))
	case KindArray:
		writeUint64(h, uint64(len(v.arr)))
		for _, item := range v.arr {
			item.writeHash(h)
		}
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeUint64(h, uint64(len(keys)))
		for _, k := range keys {
			h.Write([]byte(k))
			v.obj[k].writeHash(h)
		}
	}
}

func writeByte(h interface{ Write([]byte) (int, error) }, b byte) {
	h.Write([]byte{b})
}

func writeUint64(h interface{ Write([]byte) (int, error) }, u uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
	h.Write(buf[:])
}
