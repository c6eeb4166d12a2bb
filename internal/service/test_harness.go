package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/condition"
	"github.com/complyflow/complyflow/internal/domain/event"
)

// TestCase is the outcome of one event in TestRuleWithEvents.
type TestCase struct {
	Event event.Event `json:"event"`
	// Triggered is false when the rule does not listen for the event type;
	// such an event would never reach the rule outside the harness.
	Triggered bool                       `json:"triggered"`
	Matched   bool                       `json:"matched"`
	Result    automation.ExecutionResult `json:"result"`
}

// TestReport is returned by TestRuleWithEvents.
type TestReport struct {
	RuleID  string     `json:"rule_id"`
	Results []TestCase `json:"results"`
}

// TestHarness runs rules against sample or hand-written events through the
// engine's evaluation and execution path. It never touches rule statistics or
// the execution history; actions run in dry-run mode where the handler
// supports it.
type TestHarness struct {
	engine *RuleEngine
	now    func() time.Time
}

// NewTestHarness creates a harness on engine.
func NewTestHarness(engine *RuleEngine) *TestHarness {
	return &TestHarness{engine: engine, now: time.Now}
}

// SimulateRuleExecution evaluates rule against ev regardless of the rule's
// enabled flag and triggers, and runs its actions when it matches.
// Omitted envelope fields of ev are defaulted; the tenant defaults to the rule's.
func (h *TestHarness) SimulateRuleExecution(ctx context.Context, rule *automation.Rule, ev event.Event) automation.ExecutionResult {
	ev = h.prepare(rule, ev)
	return h.engine.process(ctx, rule.Clone(), ev, true)
}

// TestRuleWithEvents simulates rule against each event in order.
func (h *TestHarness) TestRuleWithEvents(ctx context.Context, rule *automation.Rule, events []event.Event) TestReport {
	report := TestReport{RuleID: rule.ID, Results: make([]TestCase, 0, len(events))}
	for _, ev := range events {
		ev = h.prepare(rule, ev)
		res := h.engine.process(ctx, rule.Clone(), ev, true)
		report.Results = append(report.Results, TestCase{
			Event:     ev,
			Triggered: rule.Triggers(ev.Type),
			Matched:   res.Matched,
			Result:    res,
		})
	}
	return report
}

// GenerateSampleEvents returns one representative event per category
// referenced by the rule's trigger types, in trigger order. The payload is the
// category's sample payload with the rule's leaf conditions applied so that a
// well-formed rule matches its own samples.
func (h *TestHarness) GenerateSampleEvents(rule *automation.Rule) []event.Event {
	return GenerateSampleEvents(rule, h.now())
}

func (h *TestHarness) prepare(rule *automation.Rule, ev event.Event) event.Event {
	if ev.TenantID == "" {
		ev.TenantID = rule.TenantID
	}
	return event.Normalize(ev, h.now())
}

// GenerateSampleEvents is the clock-explicit form of TestHarness.GenerateSampleEvents.
func GenerateSampleEvents(rule *automation.Rule, now time.Time) []event.Event {
	seen := make(map[event.Category]bool)
	var events []event.Event
	for _, eventType := range rule.TriggerEventTypes {
		category, ok := event.CategoryOf(eventType)
		if !ok {
			category = event.CategorySystem
		}
		if seen[category] {
			continue
		}
		seen[category] = true

		payload := samplePayload(category)
		applyConditions(payload, rule.Conditions)
		events = append(events, event.Normalize(event.Event{
			ID:       fmt.Sprintf("sample-%s-%d", category, len(events)+1),
			Type:     eventType,
			Category: category,
			TenantID: rule.TenantID,
			Priority: event.PriorityMedium,
			Payload:  payload,
		}, now))
	}
	return events
}

// applyConditions sets payload fields so each leaf holds. With OR logic only
// the first satisfiable leaf is applied.
func applyConditions(payload map[string]any, tree automation.ConditionTree) {
	for _, leaf := range tree.Rules {
		if applyLeaf(payload, leaf) && tree.Logic.Normalize() == automation.LogicOr {
			return
		}
	}
}

func applyLeaf(payload map[string]any, leaf automation.ConditionLeaf) bool {
	var v any
	switch leaf.Operator {
	case automation.OpEq:
		v = leaf.Value
	case automation.OpGte, automation.OpLte:
		v = leaf.Value
	case automation.OpGt, automation.OpLt:
		n, ok := numeric(leaf.Value)
		if !ok {
			return false
		}
		if leaf.Operator == automation.OpGt {
			v = math.Floor(n) + 1
		} else {
			v = math.Ceil(n) - 1
		}
	case automation.OpIn:
		list, ok := leaf.Value.([]any)
		if !ok || len(list) == 0 {
			if strs, ok := leaf.Value.([]string); ok && len(strs) > 0 {
				v = strs[0]
				break
			}
			return false
		}
		v = list[0]
	case automation.OpContains:
		s, ok := leaf.Value.(string)
		if !ok {
			v = []any{leaf.Value}
			break
		}
		v = "sample " + s
	case automation.OpNeq:
		if cur, ok := condition.Lookup(payload, leaf.Field); ok && fmt.Sprint(cur) != fmt.Sprint(leaf.Value) {
			return true
		}
		switch x := leaf.Value.(type) {
		case string:
			v = "not_" + x
		case bool:
			v = !x
		default:
			n, ok := numeric(leaf.Value)
			if !ok {
				return false
			}
			v = n + 1
		}
	default:
		return false
	}
	setField(payload, leaf.Field, v)
	return true
}

// setField writes v at a dotted path, creating intermediate maps. A field
// without dots, or one already present as a literal top-level key, is
// written at the top level.
func setField(payload map[string]any, field string, v any) {
	if _, ok := payload[field]; ok || !strings.Contains(field, ".") {
		payload[field] = v
		return
	}
	parts := strings.Split(field, ".")
	m := payload
	for _, key := range parts[:len(parts)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
