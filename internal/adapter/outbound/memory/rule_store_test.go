package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

func newRule(id, tenant string, enabled bool, triggers ...string) *automation.Rule {
	return &automation.Rule{
		ID:                id,
		TenantID:          tenant,
		Name:              "rule " + id,
		TriggerEventTypes: triggers,
		Enabled:           enabled,
		Actions:           []automation.ActionSpec{{Type: "send_notification", Config: map[string]any{"title": "x"}}},
	}
}

func TestRuleStore_ListRulesFiltersAndKeepsOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore()
	for _, r := range []*automation.Rule{
		newRule("r3", "t1", true, "risk_created"),
		newRule("r1", "t1", true, "risk_created", "risk_updated"),
		newRule("r2", "t1", false, "risk_created"),
		newRule("r4", "t2", true, "risk_created"),
	} {
		if err := s.SaveRule(ctx, r); err != nil {
			t.Fatalf("SaveRule(%s) error: %v", r.ID, err)
		}
	}

	got, err := s.ListRules(ctx, "t1", automation.RuleFilter{EventType: "risk_created", EnabledOnly: true})
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r3" || got[1].ID != "r1" {
		t.Errorf("ListRules() = %v, want [r3 r1] in insertion order", ids(got))
	}

	all, _ := s.ListRules(ctx, "", automation.RuleFilter{})
	if len(all) != 4 {
		t.Errorf("ListRules(all) returned %d rules, want 4", len(all))
	}
}

func TestRuleStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore()
	_ = s.SaveRule(ctx, newRule("r1", "t1", true, "risk_created"))

	r, _ := s.GetRule(ctx, "r1")
	r.Name = "mutated"
	r.Actions[0].Config["title"] = "mutated"

	again, _ := s.GetRule(ctx, "r1")
	if again.Name != "rule r1" || again.Actions[0].Config["title"] != "x" {
		t.Errorf("stored rule was mutated through a returned copy: %+v", again)
	}
}

func TestRuleStore_SavePreservesStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newRule("r1", "t1", true, "risk_created")
	r.CreatedAt = created
	_ = s.SaveRule(ctx, r)
	if _, err := s.IncrementExecution(ctx, "r1", time.Now()); err != nil {
		t.Fatalf("IncrementExecution() error: %v", err)
	}

	update := newRule("r1", "t1", false, "risk_created")
	update.ExecutionCount = 0
	update.CreatedAt = time.Now()
	_ = s.SaveRule(ctx, update)

	got, _ := s.GetRule(ctx, "r1")
	if got.ExecutionCount != 1 || got.LastExecutedAt == nil {
		t.Errorf("stats lost on update: count=%d last=%v", got.ExecutionCount, got.LastExecutedAt)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Enabled {
		t.Error("update should have disabled the rule")
	}
}

func TestRuleStore_DeleteRule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore()
	_ = s.SaveRule(ctx, newRule("r1", "t1", true, "a"))
	_ = s.SaveRule(ctx, newRule("r2", "t1", true, "a"))

	if err := s.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule() error: %v", err)
	}
	if err := s.DeleteRule(ctx, "r1"); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("second DeleteRule() error = %v, want ErrRuleNotFound", err)
	}
	if _, err := s.GetRule(ctx, "r1"); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("GetRule() error = %v, want ErrRuleNotFound", err)
	}
	got, _ := s.ListRules(ctx, "t1", automation.RuleFilter{})
	if len(got) != 1 || got[0].ID != "r2" {
		t.Errorf("ListRules() after delete = %v", ids(got))
	}
}

func TestRuleStore_IncrementExecutionConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore()
	_ = s.SaveRule(ctx, newRule("r1", "t1", true, "a"))

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementExecution(ctx, "r1", time.Now()); err != nil {
				t.Errorf("IncrementExecution() error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetRule(ctx, "r1")
	if got.ExecutionCount != n {
		t.Errorf("ExecutionCount = %d, want %d", got.ExecutionCount, n)
	}
	if _, err := s.IncrementExecution(ctx, "missing", time.Now()); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("IncrementExecution(missing) error = %v, want ErrRuleNotFound", err)
	}
}

func ids(rules []automation.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}
