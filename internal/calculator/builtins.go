package calculator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ledgerrules/rete/internal/factvalue"
)

// dateLayouts are the datetime formats the built-ins accept, tried in
// order. The first matches the literal example in scenario S4
// ("2025-01-01 08:00:00"); RFC3339 covers the wire format of §6.2.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

func parseDateValue(v factvalue.Value, field string) (time.Time, error) {
	if t, ok := v.Time(); ok {
		return t, nil
	}
	s, ok := v.Str()
	if !ok {
		return time.Time{}, newTypeMismatch(field, "expected a date or datetime string")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, newTypeMismatch(field, fmt.Sprintf("cannot parse %q as a datetime", s))
}

func numeric(v factvalue.Value, field string) (float64, error) {
	f, ok := v.AsFloat64()
	if !ok {
		return 0, newTypeMismatch(field, "expected a numeric value")
	}
	return f, nil
}

func req(inputs map[string]factvalue.Value, name string) (factvalue.Value, error) {
	v, ok := inputs[name]
	if !ok {
		return factvalue.Value{}, newUnknownVariable(name)
	}
	return v, nil
}

// registerBuiltins populates r with the ten required calculator built-ins
// of §4.4, plus the four string built-ins (concat, contains, startsWith,
// endsWith) also named there and a date(s) built-in that parses a date
// literal. Each built-in declares its RequiredFields
// the way formula.VarDef declares a step's variable schema.
func registerBuiltins(r *Registry) {
	reg := func(name string, fields []FieldSpec, fn Func) {
		_ = r.Register(Calculator{Name: name, RequiredFields: fields, Fn: fn})
	}

	reg("hours_between",
		[]FieldSpec{{Name: "start", Type: factvalue.KindString, Required: true}, {Name: "end", Type: factvalue.KindString, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			start, err := req(in, "start")
			if err != nil {
				return factvalue.Value{}, err
			}
			end, err := req(in, "end")
			if err != nil {
				return factvalue.Value{}, err
			}
			st, err := parseDateValue(start, "start")
			if err != nil {
				return factvalue.Value{}, err
			}
			et, err := parseDateValue(end, "end")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Float(et.Sub(st).Hours()), nil
		})

	reg("minutes_between",
		[]FieldSpec{{Name: "start", Type: factvalue.KindString, Required: true}, {Name: "end", Type: factvalue.KindString, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			start, err := req(in, "start")
			if err != nil {
				return factvalue.Value{}, err
			}
			end, err := req(in, "end")
			if err != nil {
				return factvalue.Value{}, err
			}
			st, err := parseDateValue(start, "start")
			if err != nil {
				return factvalue.Value{}, err
			}
			et, err := parseDateValue(end, "end")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Float(et.Sub(st).Minutes()), nil
		})

	reg("minutes_to_hours",
		[]FieldSpec{{Name: "minutes", Type: factvalue.KindFloat, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			minutes, err := req(in, "minutes")
			if err != nil {
				return factvalue.Value{}, err
			}
			m, err := numeric(minutes, "minutes")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Float(m / 60.0), nil
		})

	reg("multiply",
		[]FieldSpec{{Name: "a", Type: factvalue.KindFloat, Required: true}, {Name: "b", Type: factvalue.KindFloat, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			a, err := req(in, "a")
			if err != nil {
				return factvalue.Value{}, err
			}
			b, err := req(in, "b")
			if err != nil {
				return factvalue.Value{}, err
			}
			if a.Kind() == factvalue.KindInteger && b.Kind() == factvalue.KindInteger {
				ai, _ := a.Int()
				bi, _ := b.Int()
				return factvalue.Int(ai * bi), nil
			}
			af, err := numeric(a, "a")
			if err != nil {
				return factvalue.Value{}, err
			}
			bf, err := numeric(b, "b")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Float(af * bf), nil
		})

	reg("threshold_checker",
		[]FieldSpec{{Name: "value", Type: factvalue.KindFloat, Required: true}, {Name: "threshold", Type: factvalue.KindFloat, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			value, err := req(in, "value")
			if err != nil {
				return factvalue.Value{}, err
			}
			threshold, err := req(in, "threshold")
			if err != nil {
				return factvalue.Value{}, err
			}
			v, err := numeric(value, "value")
			if err != nil {
				return factvalue.Value{}, err
			}
			t, err := numeric(threshold, "threshold")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Bool(v >= t), nil
		})

	reg("limit_validator",
		[]FieldSpec{
			{Name: "value", Type: factvalue.KindFloat, Required: true},
			{Name: "min", Type: factvalue.KindFloat, Required: true},
			{Name: "max", Type: factvalue.KindFloat, Required: true},
		},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			value, err := req(in, "value")
			if err != nil {
				return factvalue.Value{}, err
			}
			minV, err := req(in, "min")
			if err != nil {
				return factvalue.Value{}, err
			}
			maxV, err := req(in, "max")
			if err != nil {
				return factvalue.Value{}, err
			}
			v, err := numeric(value, "value")
			if err != nil {
				return factvalue.Value{}, err
			}
			lo, err := numeric(minV, "min")
			if err != nil {
				return factvalue.Value{}, err
			}
			hi, err := numeric(maxV, "max")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Bool(v >= lo && v <= hi), nil
		})

	reg("time_between_datetime",
		[]FieldSpec{
			{Name: "start", Type: factvalue.KindString, Required: true},
			{Name: "end", Type: factvalue.KindString, Required: true},
			{Name: "unit", Type: factvalue.KindString, Required: false},
		},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			start, err := req(in, "start")
			if err != nil {
				return factvalue.Value{}, err
			}
			end, err := req(in, "end")
			if err != nil {
				return factvalue.Value{}, err
			}
			st, err := parseDateValue(start, "start")
			if err != nil {
				return factvalue.Value{}, err
			}
			et, err := parseDateValue(end, "end")
			if err != nil {
				return factvalue.Value{}, err
			}
			unit := "hours"
			if u, ok := in["unit"]; ok {
				if s, ok := u.Str(); ok && s != "" {
					unit = s
				}
			}
			d := et.Sub(st)
			switch unit {
			case "seconds":
				return factvalue.Float(d.Seconds()), nil
			case "minutes":
				return factvalue.Float(d.Minutes()), nil
			case "hours":
				return factvalue.Float(d.Hours()), nil
			case "days":
				return factvalue.Float(d.Hours() / 24.0), nil
			default:
				return factvalue.Value{}, newTypeMismatch("unit", fmt.Sprintf("unsupported unit %q", unit))
			}
		})

	reg("percentage_deduct",
		[]FieldSpec{{Name: "amount", Type: factvalue.KindFloat, Required: true}, {Name: "percentage", Type: factvalue.KindFloat, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			amount, err := req(in, "amount")
			if err != nil {
				return factvalue.Value{}, err
			}
			pct, err := req(in, "percentage")
			if err != nil {
				return factvalue.Value{}, err
			}
			a, err := numeric(amount, "amount")
			if err != nil {
				return factvalue.Value{}, err
			}
			p, err := numeric(pct, "percentage")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Float(a - a*(p/100.0)), nil
		})

	reg("aggregate_weighted_sum",
		[]FieldSpec{{Name: "values", Type: factvalue.KindArray, Required: true}, {Name: "weights", Type: factvalue.KindArray, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			valuesV, err := req(in, "values")
			if err != nil {
				return factvalue.Value{}, err
			}
			weightsV, err := req(in, "weights")
			if err != nil {
				return factvalue.Value{}, err
			}
			values, ok := valuesV.Items()
			if !ok {
				return factvalue.Value{}, newTypeMismatch("values", "expected an array")
			}
			weights, ok := weightsV.Items()
			if !ok {
				return factvalue.Value{}, newTypeMismatch("weights", "expected an array")
			}
			if len(values) != len(weights) {
				return factvalue.Value{}, newTypeMismatch("aggregate_weighted_sum", "values and weights must be the same length")
			}
			var sum float64
			for i := range values {
				v, err := numeric(values[i], "values")
				if err != nil {
					return factvalue.Value{}, err
				}
				w, err := numeric(weights[i], "weights")
				if err != nil {
					return factvalue.Value{}, err
				}
				sum += v * w
			}
			return factvalue.Float(sum), nil
		})

	reg("allocate_proportional",
		[]FieldSpec{{Name: "total", Type: factvalue.KindFloat, Required: true}, {Name: "weights", Type: factvalue.KindArray, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			totalV, err := req(in, "total")
			if err != nil {
				return factvalue.Value{}, err
			}
			weightsV, err := req(in, "weights")
			if err != nil {
				return factvalue.Value{}, err
			}
			total, err := numeric(totalV, "total")
			if err != nil {
				return factvalue.Value{}, err
			}
			weights, ok := weightsV.Items()
			if !ok {
				return factvalue.Value{}, newTypeMismatch("weights", "expected an array")
			}
			var weightSum float64
			parsed := make([]float64, len(weights))
			for i, w := range weights {
				wf, err := numeric(w, "weights")
				if err != nil {
					return factvalue.Value{}, err
				}
				parsed[i] = wf
				weightSum += wf
			}
			shares := make([]factvalue.Value, len(parsed))
			for i, w := range parsed {
				if weightSum == 0 {
					shares[i] = factvalue.Float(0)
					continue
				}
				shares[i] = factvalue.Float(total * (w / weightSum))
			}
			return factvalue.Array(shares), nil
		})

	// String built-ins named in §4.4 ("string ops: concat, contains,
	// startsWith, endsWith"), registered alongside the required
	// numeric/date built-ins since the DSL dispatches every function call
	// through this same registry. concat is variadic, so it declares no
	// fixed RequiredFields; bindPositional special-cases an empty field
	// list by binding args under "arg0", "arg1", ... instead of erroring.
	reg("concat", nil, concatFn)

	reg("contains",
		[]FieldSpec{{Name: "s", Type: factvalue.KindString, Required: true}, {Name: "sub", Type: factvalue.KindString, Required: true}},
		stringPredicate(strings.Contains))

	reg("startsWith",
		[]FieldSpec{{Name: "s", Type: factvalue.KindString, Required: true}, {Name: "prefix", Type: factvalue.KindString, Required: true}},
		stringPredicate(strings.HasPrefix))

	reg("endsWith",
		[]FieldSpec{{Name: "s", Type: factvalue.KindString, Required: true}, {Name: "suffix", Type: factvalue.KindString, Required: true}},
		stringPredicate(strings.HasSuffix))

	reg("date",
		[]FieldSpec{{Name: "s", Type: factvalue.KindString, Required: true}},
		func(in map[string]factvalue.Value) (factvalue.Value, error) {
			s, err := req(in, "s")
			if err != nil {
				return factvalue.Value{}, err
			}
			t, err := parseDateValue(s, "s")
			if err != nil {
				return factvalue.Value{}, err
			}
			return factvalue.Date(t), nil
		})
}

// concatFn accepts a variable number of positional string arguments.
// concat declares no fixed field list, so bindPositional binds its
// arguments under "arg0", "arg1", ... and concatFn reads them back in
// that order until the first missing key.
func concatFn(in map[string]factvalue.Value) (factvalue.Value, error) {
	var out string
	for i := 0; ; i++ {
		v, ok := in[fmt.Sprintf("arg%d", i)]
		if !ok {
			break
		}
		s, ok := v.Str()
		if !ok {
			return factvalue.Value{}, newTypeMismatch("concat", "all arguments must be strings")
		}
		out += s
	}
	return factvalue.String(out), nil
}

func stringPredicate(fn func(s, other string) bool) Func {
	return func(in map[string]factvalue.Value) (factvalue.Value, error) {
		sv, ok := in["s"]
		if !ok {
			return factvalue.Value{}, newUnknownVariable("s")
		}
		var otherKey string
		for k := range in {
			if k != "s" {
				otherKey = k
			}
		}
		ov, ok := in[otherKey]
		if !ok {
			return factvalue.Value{}, newUnknownVariable(otherKey)
		}
		s, ok1 := sv.Str()
		o, ok2 := ov.Str()
		if !ok1 || !ok2 {
			return factvalue.Value{}, newTypeMismatch("string predicate", "both operands must be strings")
		}
		return factvalue.Bool(fn(s, o)), nil
	}
}
