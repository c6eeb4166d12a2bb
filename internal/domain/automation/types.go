// Package automation contains domain types for event-driven automation rules.
package automation

import (
	"errors"
	"strings"
	"time"
)

// Error types for rule definitions and lookups.
var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
)

// Logic combines the leaf results of a condition tree.
type Logic string

const (
	// LogicAnd requires every leaf to match.
	LogicAnd Logic = "AND"
	// LogicOr requires at least one leaf to match.
	LogicOr Logic = "OR"
)

// Normalize upper-cases l so "and" and "AND" are equivalent.
func (l Logic) Normalize() Logic {
	return Logic(strings.ToUpper(strings.TrimSpace(string(l))))
}

// Valid reports whether l is AND or OR (case-insensitive).
func (l Logic) Valid() bool {
	n := l.Normalize()
	return n == LogicAnd || n == LogicOr
}

// Operator compares a payload field against a leaf value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
)

// Operators lists every supported operator.
var Operators = []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpIn}

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	for _, known := range Operators {
		if o == known {
			return true
		}
	}
	return false
}

// ConditionLeaf is a single field/operator/value comparison.
type ConditionLeaf struct {
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required"`
	Value    any      `json:"value" yaml:"value"`
}

// ConditionTree is a flat AND/OR expression over leaves.
// An empty Rules list always matches.
type ConditionTree struct {
	Logic Logic           `json:"logic" yaml:"logic"`
	Rules []ConditionLeaf `json:"rules" yaml:"rules" validate:"dive"`
}

// ActionSpec is one step of a rule's ordered action list.
// Config values may contain {{field}} placeholders rendered from the event payload.
type ActionSpec struct {
	Type   string         `json:"action_type" yaml:"action_type" validate:"required"`
	Config map[string]any `json:"config" yaml:"config"`
}

// ExecutionMode controls when a rule is evaluated.
type ExecutionMode string

const (
	// ModeImmediate rules are evaluated synchronously when an event arrives.
	ModeImmediate ExecutionMode = "immediate"
	// ModeScheduled rules are evaluated by a time-based trigger, never by OnEvent.
	ModeScheduled ExecutionMode = "scheduled"
)

// Rule is an automation rule: triggers, a condition tree and ordered actions.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string `json:"id" yaml:"id"`
	// TenantID scopes the rule; it only sees events of the same tenant.
	TenantID string `json:"tenant_id" yaml:"tenant_id" validate:"required"`
	// Name is a human-readable name for this rule.
	Name string `json:"rule_name" yaml:"rule_name" validate:"required,max=200"`
	// Description is optional free text.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// TriggerEventTypes lists the event types this rule listens for.
	TriggerEventTypes []string `json:"trigger_event_types" yaml:"trigger_event_types" validate:"required,min=1,dive,required"`
	// Conditions must hold for the actions to run.
	Conditions ConditionTree `json:"conditions" yaml:"conditions"`
	// Expression is an optional CEL guard ANDed with Conditions.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty" validate:"max=1024"`
	// Actions run in order when the rule matches.
	Actions []ActionSpec `json:"actions" yaml:"actions" validate:"dive"`
	// Enabled rules take part in matching; disabled rules never do.
	Enabled bool `json:"is_enabled" yaml:"is_enabled"`
	// Priority determines evaluation order (lower = earlier, ties keep store order).
	Priority int `json:"priority" yaml:"priority"`
	// Mode is immediate or scheduled.
	Mode ExecutionMode `json:"execution_mode" yaml:"execution_mode" validate:"omitempty,oneof=immediate scheduled"`

	// ExecutionCount counts genuine (non-test) dispatches.
	ExecutionCount int64 `json:"execution_count" yaml:"-"`
	// LastExecutedAt is the time of the last genuine dispatch.
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty" yaml:"-"`
	// CreatedAt is when the rule was created (UTC).
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	// UpdatedAt is when the rule was last modified (UTC).
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Triggers reports whether eventType is one of the rule's trigger types.
func (r *Rule) Triggers(eventType string) bool {
	for _, t := range r.TriggerEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// EffectiveMode returns Mode, defaulting to immediate.
func (r *Rule) EffectiveMode() ExecutionMode {
	if r.Mode == "" {
		return ModeImmediate
	}
	return r.Mode
}

// Clone returns a deep copy of the rule's slices and maps so callers can
// hand it out without sharing mutable state with a store.
func (r *Rule) Clone() *Rule {
	c := *r
	c.TriggerEventTypes = append([]string(nil), r.TriggerEventTypes...)
	c.Conditions.Rules = append([]ConditionLeaf(nil), r.Conditions.Rules...)
	c.Actions = make([]ActionSpec, len(r.Actions))
	for i, a := range r.Actions {
		c.Actions[i] = ActionSpec{Type: a.Type, Config: cloneMap(a.Config)}
	}
	if r.LastExecutedAt != nil {
		t := *r.LastExecutedAt
		c.LastExecutedAt = &t
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

// Stats is the statistics snapshot returned by an atomic increment.
type Stats struct {
	ExecutionCount int64     `json:"execution_count"`
	LastExecutedAt time.Time `json:"last_executed_at"`
}

// LeafResult is the outcome of one condition leaf.
type LeafResult struct {
	Leaf    ConditionLeaf `json:"leaf"`
	Matched bool          `json:"matched"`
	// Reason explains a failed leaf (missing field, type mismatch, unknown operator).
	Reason string `json:"reason,omitempty"`
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	ActionType string         `json:"action_type"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	// DryRun is true when the handler ran without side effects.
	DryRun bool `json:"dry_run,omitempty"`
	// LiveSideEffect is true when a test run had to execute the handler for real.
	LiveSideEffect bool          `json:"live_side_effect,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// Status classifies an execution for display.
type Status string

const (
	// StatusNotMatched means conditions did not hold; this is not an error.
	StatusNotMatched Status = "no_match"
	// StatusSucceeded means the rule matched and every action succeeded.
	StatusSucceeded Status = "success"
	// StatusPartialFailure means the rule matched and at least one action failed.
	StatusPartialFailure Status = "partial_failure"
	// StatusError means the rule could not be processed at all.
	StatusError Status = "error"
)

// ExecutionResult is the outcome of one rule against one event.
type ExecutionResult struct {
	RuleID           string         `json:"rule_id"`
	RuleName         string         `json:"rule_name"`
	EventID          string         `json:"event_id"`
	Matched          bool           `json:"matched"`
	ConditionResults []LeafResult   `json:"condition_results"`
	ExpressionError  string         `json:"expression_error,omitempty"`
	ActionResults    []ActionResult `json:"action_results"`
	// Error is set when processing the rule failed outright (a contained panic).
	Error string `json:"error,omitempty"`
	// StatsError is set when the dispatch succeeded but the statistics update failed.
	StatsError string `json:"stats_error,omitempty"`
	// Test is true for harness runs.
	Test bool `json:"test,omitempty"`
}

// Status derives the display status of the result.
func (r ExecutionResult) Status() Status {
	if r.Error != "" {
		return StatusError
	}
	if !r.Matched {
		return StatusNotMatched
	}
	for _, a := range r.ActionResults {
		if !a.Success {
			return StatusPartialFailure
		}
	}
	return StatusSucceeded
}
