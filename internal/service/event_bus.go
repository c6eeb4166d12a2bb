package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/complyflow/complyflow/internal/domain/event"
)

var (
	// ErrBusStopped is returned by Publish after Stop.
	ErrBusStopped = errors.New("event bus stopped")
	// ErrEventDropped is returned when the queue stayed full for the send timeout.
	ErrEventDropped = errors.New("event dropped: queue full")
)

// EventHandler processes one event. RuleEngine implements it.
type EventHandler interface {
	OnEvent(ctx context.Context, ev event.Event) (EventOutcome, error)
}

// EventBus decouples event producers from rule evaluation with a bounded
// queue and a fixed pool of workers. Publish never blocks a producer beyond
// the send timeout. A pass that fails with ErrStoreUnavailable is retried
// with exponential backoff.
type EventBus struct {
	handler EventHandler
	queue   chan event.Event
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *EngineMetrics

	workers     int
	capacity    int
	sendTimeout time.Duration
	maxRetries  uint64
	retryBase   time.Duration

	mu        sync.RWMutex // guards closing queue against concurrent sends
	stopped   bool
	dropCount atomic.Int64
	processed atomic.Int64
}

// BusOption configures EventBus.
type BusOption func(*EventBus)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) BusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithQueueSize sets the capacity of the event queue.
func WithQueueSize(size int) BusOption {
	return func(b *EventBus) {
		if size > 0 {
			b.capacity = size
		}
	}
}

// WithPublishTimeout sets the backpressure timeout.
// 0 = drop immediately when the queue is full, >0 = block up to this duration.
func WithPublishTimeout(timeout time.Duration) BusOption {
	return func(b *EventBus) {
		b.sendTimeout = timeout
	}
}

// WithRetry sets how often and how soon a store-unavailable pass is retried.
// maxRetries 0 disables retries.
func WithRetry(maxRetries uint64, initialInterval time.Duration) BusOption {
	return func(b *EventBus) {
		b.maxRetries = maxRetries
		if initialInterval > 0 {
			b.retryBase = initialInterval
		}
	}
}

// WithBusMetrics sets the Prometheus metrics for drops and retries.
func WithBusMetrics(m *EngineMetrics) BusOption {
	return func(b *EventBus) {
		b.metrics = m
	}
}

// NewEventBus creates an EventBus feeding handler.
func NewEventBus(handler EventHandler, logger *slog.Logger, opts ...BusOption) *EventBus {
	b := &EventBus{
		handler:     handler,
		logger:      logger,
		workers:     4,
		capacity:    1000,
		sendTimeout: 100 * time.Millisecond,
		maxRetries:  5,
		retryBase:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan event.Event, b.capacity)
	return b
}

// Start launches the workers. Cancelling ctx stops retry waits but never a
// pass: events still queued are evaluated to completion when Stop drains.
func (b *EventBus) Start(ctx context.Context) {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
}

// Publish normalizes and validates ev and enqueues it.
// Applies backpressure: attempts a non-blocking send, then blocks up to the
// send timeout before dropping the event.
func (b *EventBus) Publish(ctx context.Context, ev event.Event) error {
	ev = event.Normalize(ev, time.Now())
	if err := ev.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBusStopped
	}

	select {
	case b.queue <- ev:
		return nil
	default:
	}

	if b.sendTimeout <= 0 {
		return b.drop(ev)
	}

	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()
	select {
	case b.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return b.drop(ev)
	}
}

// PublishSync normalizes, validates and processes ev on the caller's
// goroutine, with the same retry policy as queued events.
func (b *EventBus) PublishSync(ctx context.Context, ev event.Event) (EventOutcome, error) {
	ev = event.Normalize(ev, time.Now())
	if err := ev.Validate(); err != nil {
		return EventOutcome{}, err
	}
	b.mu.RLock()
	stopped := b.stopped
	b.mu.RUnlock()
	if stopped {
		return EventOutcome{}, ErrBusStopped
	}
	return b.process(ctx, ev)
}

func (b *EventBus) drop(ev event.Event) error {
	drops := b.dropCount.Add(1)
	b.metrics.incBusDrop()
	b.logger.Warn("event dropped",
		"event", ev.ID,
		"event_type", ev.Type,
		"tenant", ev.TenantID,
		"total_drops", drops,
	)
	return ErrEventDropped
}

// Stop refuses new events, lets the workers drain the queue and waits for them.
func (b *EventBus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.queue)
	b.mu.Unlock()
	b.wg.Wait()
}

// DroppedEvents returns the total number of dropped events.
func (b *EventBus) DroppedEvents() int64 {
	return b.dropCount.Load()
}

// ProcessedEvents returns the number of events whose pass completed.
func (b *EventBus) ProcessedEvents() int64 {
	return b.processed.Load()
}

// QueueDepth returns the number of queued events.
func (b *EventBus) QueueDepth() int {
	return len(b.queue)
}

// QueueCapacity returns the queue size.
func (b *EventBus) QueueCapacity() int {
	return b.capacity
}

func (b *EventBus) worker(ctx context.Context) {
	defer b.wg.Done()
	for ev := range b.queue {
		if _, err := b.process(ctx, ev); err != nil {
			b.logger.Error("event pass failed",
				"event", ev.ID,
				"event_type", ev.Type,
				"tenant", ev.TenantID,
				"error", err,
			)
		}
	}
}

// process runs one pass, retrying while the rule store is unavailable.
// The pass itself ignores cancellation of ctx; ctx only ends the retries.
func (b *EventBus) process(ctx context.Context, ev event.Event) (EventOutcome, error) {
	passCtx := context.WithoutCancel(ctx)
	var outcome EventOutcome
	operation := func() error {
		var err error
		outcome, err = b.handler.OnEvent(passCtx, ev)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.retryBase
	policy.MaxInterval = 30 * b.retryBase
	policy.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		b.metrics.incBusRetry()
		b.logger.Warn("retrying event pass",
			"event", ev.ID,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, b.maxRetries), ctx), notify)
	if err != nil {
		return outcome, fmt.Errorf("process event %s: %w", ev.ID, err)
	}
	b.processed.Add(1)
	return outcome, nil
}
