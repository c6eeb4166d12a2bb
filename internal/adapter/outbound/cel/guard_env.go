package cel

import (
	"encoding/json"
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/complyflow/complyflow/internal/domain/condition"
	"github.com/complyflow/complyflow/internal/domain/event"
)

// NewGuardEnvironment creates the CEL environment for rule guard expressions.
// Variables:
//   - payload: the event payload (map)
//   - event_type, event_category, priority, tenant_id: envelope strings
//   - occurred_at: timestamp
//
// Custom functions:
//   - field(payload, "a.b.c"): dotted lookup, null when missing
//   - has_field(payload, "a.b.c"): whether the dotted path exists
//   - glob("risk_*", event_type): shell-style match
func NewGuardEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),
		cel.CrossTypeNumericComparisons(true),

		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("event_category", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("occurred_at", cel.TimestampType),

		cel.Function("field",
			cel.Overload("field_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, pathVal ref.Val) ref.Val {
					m, ok := nativeMap(mapVal)
					if !ok {
						return types.NullValue
					}
					v, found := condition.Lookup(m, pathVal.Value().(string))
					if !found {
						return types.NullValue
					}
					return types.DefaultTypeAdapter.NativeToValue(v)
				}),
			),
		),

		cel.Function("has_field",
			cel.Overload("has_field_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, pathVal ref.Val) ref.Val {
					m, ok := nativeMap(mapVal)
					if !ok {
						return types.Bool(false)
					}
					_, found := condition.Lookup(m, pathVal.Value().(string))
					return types.Bool(found)
				}),
			),
		),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					matched, _ := filepath.Match(pattern.Value().(string), name.Value().(string))
					return types.Bool(matched)
				}),
			),
		),
	)
}

// nativeMap recovers the Go payload map behind a CEL map value.
func nativeMap(v ref.Val) (map[string]any, bool) {
	if m, ok := v.Value().(map[string]any); ok {
		return m, true
	}
	native, err := v.ConvertToNative(mapType)
	if err != nil {
		return nil, false
	}
	m, ok := native.(map[string]any)
	return m, ok
}

// BuildActivation creates the CEL activation for e. JSON numbers in the
// payload are converted to int64 or float64 so CEL can compare them.
func BuildActivation(e event.Event) map[string]any {
	payload, _ := celValue(e.Payload).(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"payload":        payload,
		"event_type":     e.Type,
		"event_category": string(e.Category),
		"priority":       string(e.Priority),
		"tenant_id":      e.TenantID,
		"occurred_at":    e.OccurredAt,
	}
}

func celValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = celValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = celValue(item)
		}
		return out
	}
	return v
}
