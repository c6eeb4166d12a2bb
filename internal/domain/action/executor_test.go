package action

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingHandler records the configs it receives and returns a fixed result.
type recordingHandler struct {
	name   string
	calls  *[]string
	mu     *sync.Mutex
	err    error
	result map[string]any
	dryRun bool
	seen   []map[string]any
	ecs    []ExecContext
}

func (h *recordingHandler) Handle(_ context.Context, config map[string]any, ec ExecContext) (map[string]any, error) {
	h.mu.Lock()
	*h.calls = append(*h.calls, h.name)
	h.seen = append(h.seen, config)
	h.ecs = append(h.ecs, ec)
	h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}

func (h *recordingHandler) SupportsDryRun() bool { return h.dryRun }

func testEvent() event.Event {
	return event.Event{
		ID:         "evt-1",
		Type:       "campaign_launched",
		Category:   event.CategoryCampaign,
		TenantID:   "t1",
		Priority:   event.PriorityHigh,
		OccurredAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:    map[string]any{"campaign_name": "Q2 Phishing", "targets": 120},
	}
}

func TestExecute_OrderAndPartialFailure(t *testing.T) {
	t.Parallel()

	var calls []string
	mu := &sync.Mutex{}
	reg := NewRegistry()
	reg.Register("a", &recordingHandler{name: "A", calls: &calls, mu: mu, err: errors.New("boom")})
	reg.Register("b", &recordingHandler{name: "B", calls: &calls, mu: mu, result: map[string]any{"ok": true}})
	reg.Register("c", &recordingHandler{name: "C", calls: &calls, mu: mu})

	exec := NewExecutor(reg, testLogger())
	results := exec.Execute(context.Background(), []automation.ActionSpec{
		{Type: "a"}, {Type: "b"}, {Type: "c"},
	}, ExecContext{Event: testEvent()})

	if strings.Join(calls, ",") != "A,B,C" {
		t.Errorf("handler call order = %v, want A,B,C", calls)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Success || results[0].Error != "boom" {
		t.Errorf("result[0] = %+v, want failure with boom", results[0])
	}
	if !results[1].Success || results[1].Result["ok"] != true {
		t.Errorf("result[1] = %+v, want success", results[1])
	}
	if !results[2].Success {
		t.Errorf("result[2] = %+v, want success", results[2])
	}
}

func TestExecute_UnknownActionTypeContinues(t *testing.T) {
	t.Parallel()

	var calls []string
	reg := NewRegistry()
	reg.Register("b", &recordingHandler{name: "B", calls: &calls, mu: &sync.Mutex{}})

	results := NewExecutor(reg, testLogger()).Execute(context.Background(), []automation.ActionSpec{
		{Type: "teleport"}, {Type: "b"},
	}, ExecContext{Event: testEvent()})

	if results[0].Success || !strings.Contains(results[0].Error, "unknown action type: teleport") {
		t.Errorf("result[0] = %+v, want unknown action type failure", results[0])
	}
	if !results[1].Success || len(calls) != 1 {
		t.Errorf("second action should still run, calls=%v result=%+v", calls, results[1])
	}
}

func TestExecute_RendersTemplatesAndChainsResults(t *testing.T) {
	t.Parallel()

	var calls []string
	mu := &sync.Mutex{}
	creator := &recordingHandler{name: "create", calls: &calls, mu: mu, result: map[string]any{"id": "task-42"}}
	notifier := &recordingHandler{name: "notify", calls: &calls, mu: mu}
	reg := NewRegistry()
	reg.Register(TypeCreateTask, creator)
	reg.Register(TypeSendNotification, notifier)

	actions := []automation.ActionSpec{
		{Type: TypeCreateTask, Config: map[string]any{"title": "Review {{campaign_name}}", "count": "{{targets}}"}},
		{Type: TypeSendNotification, Config: map[string]any{
			"title":   "Task {{previous.id}} created by {{rule.name}}",
			"body":    "{{missing_field}} stays",
			"event":   "{{event.id}}",
			"targets": []any{"{{tenant_id}}"},
		}},
	}
	rule := &automation.Rule{ID: "r1", Name: "Campaign follow-up"}
	results := NewExecutor(reg, testLogger()).Execute(context.Background(), actions, ExecContext{Event: testEvent(), Rule: rule})

	if len(results) != 2 || !results[0].Success || !results[1].Success {
		t.Fatalf("results = %+v", results)
	}
	if got := creator.seen[0]["title"]; got != "Review Q2 Phishing" {
		t.Errorf("rendered title = %v", got)
	}
	if got := creator.seen[0]["count"]; got != 120 {
		t.Errorf("whole-placeholder value should keep its type, got %v (%T)", got, got)
	}
	cfg := notifier.seen[0]
	if cfg["title"] != "Task task-42 created by Campaign follow-up" {
		t.Errorf("chained title = %v", cfg["title"])
	}
	if cfg["body"] != "{{missing_field}} stays" {
		t.Errorf("unresolved placeholder should stay literal, got %v", cfg["body"])
	}
	if cfg["event"] != "evt-1" {
		t.Errorf("event.id = %v", cfg["event"])
	}
	if list, ok := cfg["targets"].([]any); !ok || list[0] != "t1" {
		t.Errorf("targets = %v", cfg["targets"])
	}
	if len(notifier.ecs[0].Previous) != 1 || notifier.ecs[0].Previous[0].Result["id"] != "task-42" {
		t.Errorf("second handler should see first result, got %+v", notifier.ecs[0].Previous)
	}
	if actions[0].Config["title"] != "Review {{campaign_name}}" {
		t.Error("action config template was mutated")
	}
}

func TestExecute_PanicIsContained(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("panics", HandlerFunc(func(context.Context, map[string]any, ExecContext) (map[string]any, error) {
		panic("nil map write")
	}))
	reg.Register("ok", HandlerFunc(func(context.Context, map[string]any, ExecContext) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	}))

	results := NewExecutor(reg, testLogger()).Execute(context.Background(),
		[]automation.ActionSpec{{Type: "panics"}, {Type: "ok"}}, ExecContext{Event: testEvent()})

	if results[0].Success || !strings.Contains(results[0].Error, "handler panic") {
		t.Errorf("result[0] = %+v, want contained panic", results[0])
	}
	if !results[1].Success {
		t.Errorf("result[1] = %+v, want success", results[1])
	}
}

func TestExecute_Timeout(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("slow", HandlerFunc(func(ctx context.Context, _ map[string]any, _ ExecContext) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	exec := NewExecutor(reg, testLogger(), WithActionTimeout(20*time.Millisecond))
	results := exec.Execute(context.Background(), []automation.ActionSpec{{Type: "slow"}}, ExecContext{Event: testEvent()})

	if results[0].Success {
		t.Errorf("slow action should fail on timeout, got %+v", results[0])
	}
}

func TestExecute_DryRun(t *testing.T) {
	t.Parallel()

	newReg := func() (*Registry, *recordingHandler, *recordingHandler) {
		var calls []string
		mu := &sync.Mutex{}
		safe := &recordingHandler{name: "safe", calls: &calls, mu: mu, dryRun: true}
		live := &recordingHandler{name: "live", calls: &calls, mu: mu}
		reg := NewRegistry()
		reg.Register("safe", safe)
		reg.Register("live", live)
		return reg, safe, live
	}
	actions := []automation.ActionSpec{{Type: "safe"}, {Type: "live"}}

	t.Run("live fallback allowed", func(t *testing.T) {
		t.Parallel()
		reg, safe, live := newReg()
		results := NewExecutor(reg, testLogger()).Execute(context.Background(), actions, ExecContext{Event: testEvent(), DryRun: true})

		if !results[0].DryRun || !safe.ecs[0].DryRun {
			t.Errorf("dry-run capable handler should run in dry-run: %+v", results[0])
		}
		if !results[1].LiveSideEffect || live.ecs[0].DryRun || !results[1].Success {
			t.Errorf("non dry-run handler should run live and be flagged: %+v", results[1])
		}
	})

	t.Run("live fallback refused", func(t *testing.T) {
		t.Parallel()
		reg, _, live := newReg()
		exec := NewExecutor(reg, testLogger(), WithLiveSideEffectsInDryRun(false))
		results := exec.Execute(context.Background(), actions, ExecContext{Event: testEvent(), DryRun: true})

		if results[1].Success || results[1].Error != ErrDryRunUnsupported.Error() {
			t.Errorf("result[1] = %+v, want dry-run unsupported", results[1])
		}
		if len(live.seen) != 0 {
			t.Error("live handler must not be called")
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("b", HandlerFunc(nil))
	reg.Register("a", HandlerFunc(nil))

	if !reg.Has("a") || reg.Has("c") {
		t.Error("Has() mismatch")
	}
	if got := strings.Join(reg.Types(), ","); got != "a,b" {
		t.Errorf("Types() = %q, want a,b", got)
	}
	if CanDryRun(HandlerFunc(nil)) {
		t.Error("HandlerFunc should not report dry-run support")
	}
}
