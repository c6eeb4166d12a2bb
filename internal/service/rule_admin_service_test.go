package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/complyflow/complyflow/internal/adapter/outbound/memory"
	"github.com/complyflow/complyflow/internal/domain/action"
	"github.com/complyflow/complyflow/internal/domain/automation"
)

type stubExpressions struct{}

func (stubExpressions) ValidateExpression(expr string) error {
	if strings.Contains(expr, "!!!") {
		return errors.New("invalid CEL expression")
	}
	return nil
}

func testRuleAdminEnv(t *testing.T) (*RuleAdminService, *memory.MemoryRuleStore) {
	t.Helper()
	store := memory.NewRuleStore()
	reg := action.NewRegistry()
	reg.Register(action.TypeSendNotification, action.HandlerFunc(func(context.Context, map[string]any, action.ExecContext) (map[string]any, error) {
		return nil, nil
	}))
	svc := NewRuleAdminService(store, reg.Has, stubExpressions{}, testEngineLogger())
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)) }
	return svc, store
}

func newRuleInput() *automation.Rule {
	r := policyRule()
	r.ID = ""
	r.TenantID = ""
	r.Conditions.Logic = "and"
	return &r
}

func TestRuleAdminService_Create(t *testing.T) {
	t.Parallel()

	svc, _ := testRuleAdminEnv(t)
	in := newRuleInput()
	in.ExecutionCount = 42

	got, err := svc.Create(context.Background(), "t1", in)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if got.ID == "" || got.TenantID != "t1" {
		t.Errorf("created rule = %+v", got)
	}
	if got.ExecutionCount != 0 {
		t.Errorf("ExecutionCount = %d, want 0", got.ExecutionCount)
	}
	if got.Conditions.Logic != automation.LogicAnd || got.Mode != automation.ModeImmediate {
		t.Errorf("defaults not applied: logic=%q mode=%q", got.Conditions.Logic, got.Mode)
	}
	if got.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt not UTC: %v", got.CreatedAt)
	}
}

func TestRuleAdminService_CreateRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(r *automation.Rule)
		wantErr string
	}{
		{"no triggers", func(r *automation.Rule) { r.TriggerEventTypes = nil }, "TriggerEventTypes"},
		{"no name", func(r *automation.Rule) { r.Name = "" }, "Name is required"},
		{"bad logic", func(r *automation.Rule) { r.Conditions.Logic = "XOR" }, "logic must be AND or OR"},
		{"unknown operator", func(r *automation.Rule) { r.Conditions.Rules[0].Operator = "like" }, "unknown operator"},
		{"in needs list", func(r *automation.Rule) {
			r.Conditions.Rules[0] = automation.ConditionLeaf{Field: "severity", Operator: automation.OpIn, Value: "high"}
		}, "requires a list"},
		{"unknown action", func(r *automation.Rule) { r.Actions[0].Type = "send_fax" }, "unknown action type"},
		{"bad expression", func(r *automation.Rule) { r.Expression = "!!!" }, "invalid CEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, store := testRuleAdminEnv(t)
			in := newRuleInput()
			tt.mutate(in)
			_, err := svc.Create(context.Background(), "t1", in)
			if !errors.Is(err, automation.ErrInvalidRule) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Create() error = %v, want ErrInvalidRule containing %q", err, tt.wantErr)
			}
			if store.Count() != 0 {
				t.Error("invalid rule was stored")
			}
		})
	}
}

func TestRuleAdminService_UpdatePreservesStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store := testRuleAdminEnv(t)
	created, err := svc.Create(ctx, "t1", newRuleInput())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := store.IncrementExecution(ctx, created.ID, time.Now()); err != nil {
		t.Fatalf("IncrementExecution() error: %v", err)
	}

	in := newRuleInput()
	in.Name = "Renamed"
	in.TenantID = "t2"
	updated, err := svc.Update(ctx, "t1", created.ID, in)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.Name != "Renamed" || updated.TenantID != "t1" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.ExecutionCount != 1 || updated.LastExecutedAt == nil {
		t.Errorf("statistics lost: count=%d last=%v", updated.ExecutionCount, updated.LastExecutedAt)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", created.CreatedAt, updated.CreatedAt)
	}
}

func TestRuleAdminService_TenantScoping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := testRuleAdminEnv(t)
	created, err := svc.Create(ctx, "t1", newRuleInput())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := svc.Get(ctx, "t2", created.ID); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("Get() from other tenant error = %v, want ErrRuleNotFound", err)
	}
	if err := svc.Delete(ctx, "t2", created.ID); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("Delete() from other tenant error = %v, want ErrRuleNotFound", err)
	}
	if _, err := svc.Get(ctx, "", created.ID); err != nil {
		t.Errorf("unscoped Get() error: %v", err)
	}
	rules, err := svc.List(ctx, "t2", automation.RuleFilter{})
	if err != nil || len(rules) != 0 {
		t.Errorf("List(t2) = %d rules, %v", len(rules), err)
	}
}

func TestRuleAdminService_EnableDisableDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := testRuleAdminEnv(t)
	created, err := svc.Create(ctx, "t1", newRuleInput())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	disabled, err := svc.Disable(ctx, "t1", created.ID)
	if err != nil || disabled.Enabled {
		t.Fatalf("Disable() = %+v, %v", disabled, err)
	}
	enabled, err := svc.Enable(ctx, "t1", created.ID)
	if err != nil || !enabled.Enabled {
		t.Fatalf("Enable() = %+v, %v", enabled, err)
	}
	if err := svc.Delete(ctx, "t1", created.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := svc.Get(ctx, "t1", created.ID); !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestRuleAdminService_SeedRules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store := testRuleAdminEnv(t)

	seed := []automation.Rule{*newRuleInput(), *newRuleInput(), *newRuleInput()}
	seed[0].TenantID, seed[1].TenantID, seed[2].TenantID = "t1", "t1", "t2"
	seed[0].ID = "fixed-id"

	n, err := svc.SeedRules(ctx, seed)
	if err != nil || n != 3 {
		t.Fatalf("SeedRules() = %d, %v", n, err)
	}
	if _, err := store.GetRule(ctx, "fixed-id"); err != nil {
		t.Errorf("seeded rule keeps its id: %v", err)
	}

	n, err = svc.SeedRules(ctx, seed)
	if err != nil || n != 0 {
		t.Errorf("second SeedRules() = %d, %v, want 0", n, err)
	}
	if store.Count() != 3 {
		t.Errorf("store has %d rules, want 3", store.Count())
	}
}
