package actions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/complyflow/complyflow/internal/domain/action"
	"github.com/complyflow/complyflow/internal/domain/workitem"
)

// RegisterDefaults registers the built-in handlers on reg.
func RegisterDefaults(reg *action.Registry, inbox workitem.Inbox, sink workitem.Sink, webhookOpts ...WebhookOption) {
	reg.Register(action.TypeSendNotification, NewNotificationHandler(inbox))
	reg.Register(action.TypeCreateActionPlan, NewActionPlanHandler(sink))
	reg.Register(action.TypeCreateTask, NewTaskHandler(sink))
	reg.Register(action.TypeCallWebhook, NewWebhookHandler(webhookOpts...))
}

func stringValue(config map[string]any, key string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func intValue(config map[string]any, key string) (int, bool) {
	switch n := config[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// stringList accepts a single string or a list of values.
func stringList(v any) []string {
	switch list := v.(type) {
	case nil:
		return nil
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{stringify(v)}
}
