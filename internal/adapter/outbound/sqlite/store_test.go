package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/workitem"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "complyflow.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRule(id, tenant string, enabled bool, triggers ...string) *automation.Rule {
	return &automation.Rule{
		ID:                id,
		TenantID:          tenant,
		Name:              "rule " + id,
		TriggerEventTypes: triggers,
		Conditions: automation.ConditionTree{
			Logic: automation.LogicAnd,
			Rules: []automation.ConditionLeaf{{Field: "severity", Operator: automation.OpIn, Value: []any{"high", "critical"}}},
		},
		Expression: `priority == "high"`,
		Actions: []automation.ActionSpec{
			{Type: "create_task", Config: map[string]any{"title": "Review {{risk_name}}"}},
		},
		Enabled:   enabled,
		Priority:  5,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRuleStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore(openTestDB(t))
	want := testRule("r1", "t1", true, "risk_created", "risk_updated")

	if err := s.SaveRule(ctx, want); err != nil {
		t.Fatalf("SaveRule() error: %v", err)
	}
	got, err := s.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule() error: %v", err)
	}

	if got.Name != want.Name || got.TenantID != "t1" || !got.Enabled || got.Priority != 5 {
		t.Errorf("GetRule() = %+v", got)
	}
	if len(got.TriggerEventTypes) != 2 || got.TriggerEventTypes[1] != "risk_updated" {
		t.Errorf("TriggerEventTypes = %v", got.TriggerEventTypes)
	}
	if got.Conditions.Logic != automation.LogicAnd || len(got.Conditions.Rules) != 1 {
		t.Errorf("Conditions = %+v", got.Conditions)
	}
	if got.Expression != want.Expression || got.Actions[0].Config["title"] != "Review {{risk_name}}" {
		t.Errorf("Expression/Actions = %q %+v", got.Expression, got.Actions)
	}
	if got.EffectiveMode() != automation.ModeImmediate || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("Mode/CreatedAt = %q %v", got.Mode, got.CreatedAt)
	}
	if got.LastExecutedAt != nil || got.ExecutionCount != 0 {
		t.Errorf("fresh rule has stats: %d %v", got.ExecutionCount, got.LastExecutedAt)
	}

	if _, err := s.GetRule(ctx, "missing"); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("GetRule(missing) error = %v, want ErrRuleNotFound", err)
	}
}

func TestRuleStore_ListRulesOrderAndFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore(openTestDB(t))
	for _, r := range []*automation.Rule{
		testRule("b", "t1", true, "risk_created"),
		testRule("a", "t1", true, "risk_created"),
		testRule("c", "t1", false, "risk_created"),
		testRule("d", "t1", true, "policy_published"),
		testRule("e", "t2", true, "risk_created"),
	} {
		if err := s.SaveRule(ctx, r); err != nil {
			t.Fatalf("SaveRule(%s) error: %v", r.ID, err)
		}
	}
	// Updating must not move a rule to the end.
	if err := s.SaveRule(ctx, testRule("b", "t1", true, "risk_created")); err != nil {
		t.Fatalf("SaveRule(update) error: %v", err)
	}

	got, err := s.ListRules(ctx, "t1", automation.RuleFilter{EventType: "risk_created", EnabledOnly: true})
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		ids := make([]string, len(got))
		for i, r := range got {
			ids[i] = r.ID
		}
		t.Errorf("ListRules() = %v, want [b a]", ids)
	}

	all, _ := s.ListRules(ctx, "", automation.RuleFilter{})
	if len(all) != 5 {
		t.Errorf("ListRules(all) = %d rules, want 5", len(all))
	}
	if n, _ := s.Count(ctx); n != 5 {
		t.Errorf("Count() = %d, want 5", n)
	}
}

func TestRuleStore_IncrementExecutionAndPreserveStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore(openTestDB(t))
	_ = s.SaveRule(ctx, testRule("r1", "t1", true, "risk_created"))

	const n = 20
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

	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	stats, err := s.IncrementExecution(ctx, "r1", at)
	if err != nil {
		t.Fatalf("IncrementExecution() error: %v", err)
	}
	if stats.ExecutionCount != n+1 || !stats.LastExecutedAt.Equal(at) {
		t.Errorf("stats = %+v, want count %d at %v", stats, n+1, at)
	}

	update := testRule("r1", "t1", false, "risk_created")
	update.Name = "renamed"
	if err := s.SaveRule(ctx, update); err != nil {
		t.Fatalf("SaveRule() error: %v", err)
	}
	got, _ := s.GetRule(ctx, "r1")
	if got.ExecutionCount != n+1 || got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(at) {
		t.Errorf("stats after update = %d %v", got.ExecutionCount, got.LastExecutedAt)
	}
	if got.Name != "renamed" || got.Enabled {
		t.Errorf("update not applied: %+v", got)
	}

	if _, err := s.IncrementExecution(ctx, "missing", at); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("IncrementExecution(missing) error = %v, want ErrRuleNotFound", err)
	}
}

func TestRuleStore_DeleteRule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRuleStore(openTestDB(t))
	_ = s.SaveRule(ctx, testRule("r1", "t1", true, "x"))

	if err := s.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule() error: %v", err)
	}
	if err := s.DeleteRule(ctx, "r1"); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("DeleteRule() again error = %v, want ErrRuleNotFound", err)
	}
}

func TestInboxAndItemStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	inbox := NewInbox(db)
	items := NewItemStore(db)
	now := time.Now().UTC()

	_ = inbox.Deliver(ctx, workitem.Notification{ID: "n1", TenantID: "t1", Title: "first", Recipients: []string{"a"}, CreatedAt: now})
	_ = inbox.Deliver(ctx, workitem.Notification{ID: "n2", TenantID: "t1", Title: "second", CreatedAt: now})
	_ = inbox.Deliver(ctx, workitem.Notification{ID: "n3", TenantID: "t2", Title: "other", CreatedAt: now})

	got, err := inbox.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("Inbox.List() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "n2" || got[1].Recipients[0] != "a" {
		t.Errorf("Inbox.List(t1) = %+v", got)
	}
	if got, _ := inbox.List(ctx, "", 1); len(got) != 1 || got[0].ID != "n3" {
		t.Errorf("Inbox.List(limit 1) = %+v", got)
	}

	if err := items.Create(ctx, workitem.Item{ID: "i1", Kind: workitem.KindTask, TenantID: "t1", Title: "task", Fields: map[string]any{"control": "A.8"}, CreatedAt: now}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_ = items.Create(ctx, workitem.Item{ID: "i2", Kind: workitem.KindActionPlan, TenantID: "t1", Title: "plan", CreatedAt: now})

	tasks, err := items.List(ctx, "t1", workitem.KindTask)
	if err != nil {
		t.Fatalf("ItemStore.List() error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Fields["control"] != "A.8" {
		t.Errorf("tasks = %+v", tasks)
	}
	if all, _ := items.List(ctx, "t1", ""); len(all) != 2 || all[0].ID != "i2" {
		t.Errorf("all items = %+v", all)
	}
}
