package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/complyflow/complyflow/internal/domain/action"
	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/condition"
	"github.com/complyflow/complyflow/internal/domain/event"
)

// scriptedHandler fails the first failures calls with err, then succeeds.
type scriptedHandler struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    atomic.Int64
	seen     []string
	block    chan struct{}
}

func (h *scriptedHandler) OnEvent(_ context.Context, ev event.Event) (EventOutcome, error) {
	h.calls.Add(1)
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures > 0 {
		h.failures--
		return EventOutcome{}, h.err
	}
	h.seen = append(h.seen, ev.ID)
	return EventOutcome{EventID: ev.ID, EventType: ev.Type, TenantID: ev.TenantID}, nil
}

func (h *scriptedHandler) processedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func busEvent(id string) event.Event {
	return event.Event{ID: id, Type: "alert_raised", TenantID: "t1", Payload: map[string]any{"severity": "high"}}
}

func TestEventBus_ProcessesAndDrainsOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &scriptedHandler{}
	bus := NewEventBus(h, testEngineLogger(), WithWorkers(2), WithQueueSize(16))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		if err := bus.Publish(ctx, busEvent(id)); err != nil {
			t.Fatalf("Publish(%s) error: %v", id, err)
		}
	}
	bus.Stop()

	if got := len(h.processedIDs()); got != 5 {
		t.Errorf("processed %d events, want 5", got)
	}
	if got := bus.ProcessedEvents(); got != 5 {
		t.Errorf("ProcessedEvents() = %d, want 5", got)
	}
	if err := bus.Publish(ctx, busEvent("late")); !errors.Is(err, ErrBusStopped) {
		t.Errorf("Publish() after Stop error = %v, want ErrBusStopped", err)
	}
	if _, err := bus.PublishSync(ctx, busEvent("late-sync")); !errors.Is(err, ErrBusStopped) {
		t.Errorf("PublishSync() after Stop error = %v, want ErrBusStopped", err)
	}
	bus.Stop()
}

func TestEventBus_RejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(&scriptedHandler{}, testEngineLogger())
	err := bus.Publish(context.Background(), event.Event{Type: "alert_raised"})
	if !errors.Is(err, event.ErrInvalidEvent) {
		t.Errorf("Publish() error = %v, want ErrInvalidEvent", err)
	}
	if bus.QueueDepth() != 0 {
		t.Error("invalid event was queued")
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &scriptedHandler{block: make(chan struct{})}
	metrics := NewEngineMetrics(prometheus.NewRegistry())
	bus := NewEventBus(h, testEngineLogger(),
		WithWorkers(1),
		WithQueueSize(2),
		WithPublishTimeout(10*time.Millisecond),
		WithBusMetrics(metrics),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	// The worker holds one event; two more fill the queue.
	var drops int
	for i := 0; i < 6; i++ {
		if err := bus.Publish(ctx, busEvent("e"+string(rune('a'+i)))); errors.Is(err, ErrEventDropped) {
			drops++
		}
	}
	if drops == 0 {
		t.Fatal("expected drops with a full queue")
	}
	if got := bus.DroppedEvents(); got != int64(drops) {
		t.Errorf("DroppedEvents() = %d, want %d", got, drops)
	}
	if got := testutil.ToFloat64(metrics.BusDropsTotal); got != float64(drops) {
		t.Errorf("event_bus_drops_total = %v, want %d", got, drops)
	}
	if bus.QueueCapacity() != 2 {
		t.Errorf("QueueCapacity() = %d, want 2", bus.QueueCapacity())
	}

	close(h.block)
	bus.Stop()
}

func TestEventBus_RetriesStoreUnavailable(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{failures: 2, err: ErrStoreUnavailable}
	metrics := NewEngineMetrics(prometheus.NewRegistry())
	bus := NewEventBus(h, testEngineLogger(), WithRetry(5, time.Millisecond), WithBusMetrics(metrics))

	out, err := bus.PublishSync(context.Background(), busEvent("retry-me"))
	if err != nil {
		t.Fatalf("PublishSync() error: %v", err)
	}
	if out.EventID != "retry-me" {
		t.Errorf("outcome = %+v", out)
	}
	if got := h.calls.Load(); got != 3 {
		t.Errorf("OnEvent calls = %d, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.BusRetriesTotal); got != 2 {
		t.Errorf("event_bus_retries_total = %v, want 2", got)
	}
}

func TestEventBus_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{failures: 10, err: ErrStoreUnavailable}
	bus := NewEventBus(h, testEngineLogger(), WithRetry(2, time.Millisecond))

	_, err := bus.PublishSync(context.Background(), busEvent("never"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("PublishSync() error = %v, want ErrStoreUnavailable", err)
	}
	if got := h.calls.Load(); got != 3 {
		t.Errorf("OnEvent calls = %d, want 3 (1 + 2 retries)", got)
	}
}

func TestEventBus_OtherErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{failures: 1, err: errors.New("boom")}
	bus := NewEventBus(h, testEngineLogger(), WithRetry(5, time.Millisecond))

	if _, err := bus.PublishSync(context.Background(), busEvent("once")); err == nil {
		t.Fatal("PublishSync() expected error")
	}
	if got := h.calls.Load(); got != 1 {
		t.Errorf("OnEvent calls = %d, want 1", got)
	}
}

func TestEventBus_WithRuleEngine(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newEngineFixture(t)
	f.add(policyRule())
	bus := NewEventBus(f.engine, testEngineLogger(), WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	if err := bus.Publish(ctx, policyEvent("policy_approved", "high")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	bus.Stop()

	if got := f.count(t, "rule-policy"); got != 1 {
		t.Errorf("execution_count = %d, want 1", got)
	}
}

// ctxRuleStore fails every call once its context is cancelled, the way a
// database-backed store does.
type ctxRuleStore struct {
	automation.RuleStore
}

func (s ctxRuleStore) ListRules(ctx context.Context, tenantID string, filter automation.RuleFilter) ([]automation.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.RuleStore.ListRules(ctx, tenantID, filter)
}

func (s ctxRuleStore) IncrementExecution(ctx context.Context, id string, at time.Time) (automation.Stats, error) {
	if err := ctx.Err(); err != nil {
		return automation.Stats{}, err
	}
	return s.RuleStore.IncrementExecution(ctx, id, at)
}

func TestEventBus_DrainsQueuedEventsAfterCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newEngineFixture(t)
	f.add(policyRule())
	executor := action.NewExecutor(f.registry, testEngineLogger())
	engine := NewRuleEngine(ctxRuleStore{f.store}, condition.New(), executor, testEngineLogger())
	bus := NewEventBus(engine, testEngineLogger(), WithWorkers(2), WithQueueSize(8), WithRetry(3, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		ev := policyEvent("policy_approved", "high")
		ev.ID = fmt.Sprintf("evt-%d", i)
		if err := bus.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	cancel()
	bus.Start(ctx)
	bus.Stop()

	if got := bus.ProcessedEvents(); got != 5 {
		t.Errorf("ProcessedEvents() = %d, want 5", got)
	}
	if got := f.count(t, "rule-policy"); got != 5 {
		t.Errorf("execution_count = %d, want 5", got)
	}
}
