package memory

import (
	"context"
	"testing"

	"github.com/complyflow/complyflow/internal/domain/workitem"
)

func TestInbox_ListNewestFirstPerTenant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inbox := NewInbox()
	_ = inbox.Deliver(ctx, workitem.Notification{ID: "n1", TenantID: "t1"})
	_ = inbox.Deliver(ctx, workitem.Notification{ID: "n2", TenantID: "t2"})
	_ = inbox.Deliver(ctx, workitem.Notification{ID: "n3", TenantID: "t1"})

	got, err := inbox.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "n3" || got[1].ID != "n1" {
		t.Errorf("List(t1) = %+v", got)
	}
	if got, _ := inbox.List(ctx, "", 1); len(got) != 1 || got[0].ID != "n3" {
		t.Errorf("List(limit 1) = %+v", got)
	}
}

func TestItemStore_ListByKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewItemStore()
	_ = s.Create(ctx, workitem.Item{ID: "p1", Kind: workitem.KindActionPlan, TenantID: "t1"})
	_ = s.Create(ctx, workitem.Item{ID: "k1", Kind: workitem.KindTask, TenantID: "t1", Fields: map[string]any{"a": 1}})
	_ = s.Create(ctx, workitem.Item{ID: "k2", Kind: workitem.KindTask, TenantID: "t2"})

	tasks, _ := s.List(ctx, "t1", workitem.KindTask)
	if len(tasks) != 1 || tasks[0].ID != "k1" {
		t.Fatalf("List(t1, task) = %+v", tasks)
	}
	tasks[0].Fields["a"] = 2
	again, _ := s.List(ctx, "t1", workitem.KindTask)
	if again[0].Fields["a"] != 1 {
		t.Error("stored item mutated through returned copy")
	}
	if all, _ := s.List(ctx, "t1", ""); len(all) != 2 {
		t.Errorf("List(t1, all) returned %d, want 2", len(all))
	}
}
