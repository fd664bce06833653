// Package aggregation implements the group-by aggregation engine of
// §4.5: filter, group by concatenated key, extract a numeric source
// field, and reduce each group under one of the seven aggregation
// types. Generalized from internal/formula/pipeline.go
// grouping-and-reduction shape (a spec struct driving a multi-stage
// pipeline over a slice of domain objects) generalized from issue
// pipelines to fact aggregation.
package aggregation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/ruleerrors"
	"github.com/ledgerrules/rete/internal/types"
)

// groupKeySeparator joins group-by field values into one group key. It
// is chosen to be vanishingly unlikely to appear inside a field's own
// string representation, per §4.5's "unambiguous separator" requirement.
const groupKeySeparator = "\x1f"

// Spec describes one aggregation request: {group_by, source_field,
// aggregation_type, filter?}. It has no window field; Aggregate reduces
// over exactly the facts it is given.
type Spec struct {
	GroupBy         []string
	SourceField     string
	AggregationType types.AggregationType
	Percentile      float64
	Filter          func(*types.Fact) (bool, error)
}

// Result is one group's aggregated outcome, per §4.5's AggregationResult.
type Result struct {
	GroupKey        string
	AggregatedValue factvalue.Value
	FactCount       int
	SourceField     string
	AggregationType types.AggregationType
}

// Aggregate runs spec over facts: optional filter, group by the
// concatenation of GroupBy field values, extract SourceField as
// numeric, and reduce per AggregationType. Results are returned sorted
// by GroupKey for deterministic output.
func Aggregate(facts []*types.Fact, spec Spec) ([]Result, error) {
	groups := make(map[string][]float64)
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, f := range facts {
		if spec.Filter != nil {
			keep, err := spec.Filter(f)
			if err != nil {
				return nil, ruleerrors.NewAggregationError(string(spec.AggregationType), spec.SourceField, "filter evaluation failed", err)
			}
			if !keep {
				continue
			}
		}

		key := groupKey(f, spec.GroupBy)
		val, ok := f.Fields[spec.SourceField]
		if !ok {
			continue
		}
		num, err := extractNumeric(val)
		if err != nil {
			return nil, ruleerrors.NewAggregationError(string(spec.AggregationType), spec.SourceField,
				fmt.Sprintf("group %q: %s", key, err.Error()), err)
		}

		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], num)
		counts[key]++
	}

	sort.Strings(order)

	results := make([]Result, 0, len(order))
	for _, key := range order {
		values := groups[key]
		aggVal, err := reduce(spec.AggregationType, values, spec.Percentile)
		if err != nil {
			return nil, ruleerrors.NewAggregationError(string(spec.AggregationType), spec.SourceField, err.Error(), err)
		}
		results = append(results, Result{
			GroupKey:        key,
			AggregatedValue: aggVal,
			FactCount:       counts[key],
			SourceField:     spec.SourceField,
			AggregationType: spec.AggregationType,
		})
	}
	return results, nil
}

// groupKey concatenates a fact's group-by field values, in GroupBy's
// declared order, joined with groupKeySeparator.
func groupKey(f *types.Fact, groupBy []string) string {
	if len(groupBy) == 0 {
		return ""
	}
	parts := make([]string, len(groupBy))
	for i, field := range groupBy {
		v, ok := f.Fields[field]
		if !ok {
			parts[i] = ""
			continue
		}
		parts[i] = valueToKeyPart(v)
	}
	return strings.Join(parts, groupKeySeparator)
}

func valueToKeyPart(v factvalue.Value) string {
	switch v.Kind() {
	case factvalue.KindString:
		s, _ := v.Str()
		return s
	case factvalue.KindInteger:
		i, _ := v.Int()
		return strconv.FormatInt(i, 10)
	case factvalue.KindFloat:
		f, _ := v.Float()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case factvalue.KindBoolean:
		b, _ := v.Bool()
		return strconv.FormatBool(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// extractNumeric extracts a float64 from a fact's source field value:
// integers/floats pass through, strings are parsed (failing the group
// on parse error per §4.5).
func extractNumeric(v factvalue.Value) (float64, error) {
	if f, ok := v.AsFloat64(); ok {
		return f, nil
	}
	if s, ok := v.Str(); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as a number", s)
		}
		return f, nil
	}
	return 0, fmt.Errorf("field is not numeric or a numeric string (kind %s)", v.Kind())
}

func reduce(aggType types.AggregationType, values []float64, percentile float64) (factvalue.Value, error) {
	switch aggType {
	case types.AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return factvalue.Float(sum), nil
	case types.AggCount:
		return factvalue.Int(int64(len(values))), nil
	case types.AggAverage:
		if len(values) == 0 {
			return factvalue.Null(), nil
		}
		var sum float64
		for _, v := range values {
			sum += v
		}
		return factvalue.Float(sum / float64(len(values))), nil
	case types.AggMin:
		if len(values) == 0 {
			return factvalue.Null(), nil
		}
		min := math.Inf(1)
		for _, v := range values {
			if v < min {
				min = v
			}
		}
		return factvalue.Float(min), nil
	case types.AggMax:
		if len(values) == 0 {
			return factvalue.Null(), nil
		}
		max := math.Inf(-1)
		for _, v := range values {
			if v > max {
				max = v
			}
		}
		return factvalue.Float(max), nil
	case types.AggStandardDeviation:
		if len(values) == 0 {
			return factvalue.Null(), nil
		}
		return factvalue.Float(populationStdDev(values)), nil
	case types.AggPercentile:
		if len(values) == 0 {
			return factvalue.Null(), nil
		}
		return factvalue.Float(percentileOf(values, percentile)), nil
	default:
		return factvalue.Value{}, fmt.Errorf("unknown aggregation type %q", aggType)
	}
}

func populationStdDev(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	return math.Sqrt(sqDiff / float64(len(values)))
}

// percentileOf sorts a copy of values and picks index
// floor(p/100 * (n-1)), per §4.5.
func percentileOf(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	idx := int(math.Floor((p / 100.0) * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
