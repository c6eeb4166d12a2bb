package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

func record(tenant, ruleID string) automation.ExecutionRecord {
	res := automation.ExecutionResult{RuleID: ruleID, EventID: "evt", Matched: true}
	return automation.ExecutionRecord{
		TenantID:   tenant,
		EventType:  "risk_created",
		Status:     res.Status(),
		Result:     res,
		RecordedAt: time.Now().UTC(),
	}
}

func TestExecutionStore_WritesJSONLines(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	s := NewExecutionStoreWithWriter(buf)

	if err := s.Record(context.Background(), record("t1", "r1"), record("t1", "r2")); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	var decoded automation.ExecutionRecord
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded.Result.RuleID != "r2" || decoded.Status != automation.StatusSucceeded {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestExecutionStore_RingBufferAndFilter(t *testing.T) {
	t.Parallel()

	s := NewExecutionStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tenant := "t1"
		if i%2 == 1 {
			tenant = "t2"
		}
		_ = s.Record(ctx, record(tenant, fmt.Sprintf("r%d", i)))
	}

	all := s.Recent(automation.ExecutionFilter{})
	if len(all) != 3 {
		t.Fatalf("Recent() returned %d, want capacity 3", len(all))
	}
	if all[0].Result.RuleID != "r4" || all[2].Result.RuleID != "r2" {
		t.Errorf("Recent() order = %s,%s,%s, want newest first", all[0].Result.RuleID, all[1].Result.RuleID, all[2].Result.RuleID)
	}

	t1 := s.Recent(automation.ExecutionFilter{TenantID: "t1"})
	if len(t1) != 2 {
		t.Errorf("tenant filter returned %d, want 2", len(t1))
	}
	byRule := s.Recent(automation.ExecutionFilter{RuleID: "r3"})
	if len(byRule) != 1 || byRule[0].TenantID != "t2" {
		t.Errorf("rule filter = %+v", byRule)
	}
	limited := s.Recent(automation.ExecutionFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d", len(limited))
	}
}

func TestExecutionStore_NilWriter(t *testing.T) {
	t.Parallel()

	s := NewExecutionStore()
	if err := s.Record(context.Background(), record("t1", "r1")); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
