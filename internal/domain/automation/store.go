package automation

import (
	"context"
	"time"
)

// RuleFilter narrows ListRules. Zero values mean "no constraint".
type RuleFilter struct {
	// EventType keeps rules whose triggers include this type.
	EventType string
	// EnabledOnly drops disabled rules.
	EnabledOnly bool
}

// Matches reports whether r passes the filter.
func (f RuleFilter) Matches(r *Rule) bool {
	if f.EnabledOnly && !r.Enabled {
		return false
	}
	if f.EventType != "" && !r.Triggers(f.EventType) {
		return false
	}
	return true
}

// RuleStore persists and retrieves automation rules.
// ListRules returns rules in store order (insertion order), which is the
// tie-break when two candidates share a priority.
type RuleStore interface {
	// ListRules returns the tenant's rules that pass filter, in store order.
	ListRules(ctx context.Context, tenantID string, filter RuleFilter) ([]Rule, error)
	// GetRule returns a rule by ID or ErrRuleNotFound.
	GetRule(ctx context.Context, id string) (*Rule, error)
	// SaveRule creates or updates a rule. Statistics fields are not
	// overwritten on update.
	SaveRule(ctx context.Context, r *Rule) error
	// DeleteRule removes a rule by ID or returns ErrRuleNotFound.
	DeleteRule(ctx context.Context, id string) error
	// IncrementExecution atomically adds one to the execution count and sets
	// the last execution time, returning the new statistics.
	IncrementExecution(ctx context.Context, id string, at time.Time) (Stats, error)
}

// ExecutionRecord is one entry of the execution history.
type ExecutionRecord struct {
	TenantID   string          `json:"tenant_id"`
	EventType  string          `json:"event_type"`
	Status     Status          `json:"status"`
	Result     ExecutionResult `json:"result"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ExecutionFilter narrows history queries.
type ExecutionFilter struct {
	TenantID string
	RuleID   string
	Limit    int
}

// ExecutionRecorder keeps the history of genuine rule dispatches.
type ExecutionRecorder interface {
	// Record appends records to the history.
	Record(ctx context.Context, records ...ExecutionRecord) error
	// Recent returns the newest records matching filter, newest first.
	Recent(filter ExecutionFilter) []ExecutionRecord
}
