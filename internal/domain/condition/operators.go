package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// normalize converts numeric values of any Go type (and json.Number) to
// float64, typed slices to []any and nested maps member by member, so
// equality does not depend on how a payload was decoded.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case []string:
		out := make([]any, len(n))
		for i, s := range n {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = normalize(item)
		}
		return out
	}
	return v
}

// equal is strict equality on normalized values: a string never equals a number.
func equal(a, b any) bool {
	na, nb := normalize(a), normalize(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	if reflect.TypeOf(na) != reflect.TypeOf(nb) {
		return false
	}
	switch av := na.(type) {
	case string, float64, bool:
		return av == nb
	}
	return reflect.DeepEqual(na, nb)
}

// toFloat coerces numbers and numeric strings. NaN and the infinities are
// not numbers a threshold can be compared with.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := normalize(v).(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toList returns v as a list if it is a slice or array.
func toList(v any) ([]any, bool) {
	if l, ok := normalize(v).([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func operatorEq(fieldValue, compareValue any) (bool, string) {
	return equal(fieldValue, compareValue), ""
}

func operatorNeq(fieldValue, compareValue any) (bool, string) {
	return !equal(fieldValue, compareValue), ""
}

func numericOperator(test func(cmp int) bool) operatorFunc {
	return func(fieldValue, compareValue any) (bool, string) {
		a, ok := toFloat(fieldValue)
		if !ok {
			return false, fmt.Sprintf("field value %v is not numeric", fieldValue)
		}
		b, ok := toFloat(compareValue)
		if !ok {
			return false, fmt.Sprintf("comparison value %v is not numeric", compareValue)
		}
		switch {
		case a < b:
			return test(-1), ""
		case a > b:
			return test(1), ""
		default:
			return test(0), ""
		}
	}
}

// operatorContains is a substring test for string fields and a membership
// test for list fields.
func operatorContains(fieldValue, compareValue any) (bool, string) {
	if s, ok := fieldValue.(string); ok {
		return strings.Contains(s, stringify(compareValue)), ""
	}
	if list, ok := toList(fieldValue); ok {
		for _, item := range list {
			if equal(item, compareValue) {
				return true, ""
			}
		}
		return false, ""
	}
	return false, fmt.Sprintf("contains is undefined for %T", fieldValue)
}

// operatorIn tests whether the field value is a member of the list compareValue.
func operatorIn(fieldValue, compareValue any) (bool, string) {
	list, ok := toList(compareValue)
	if !ok {
		return false, "in requires a list value"
	}
	for _, item := range list {
		if equal(fieldValue, item) {
			return true, ""
		}
	}
	return false, ""
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	}
	return fmt.Sprint(v)
}
