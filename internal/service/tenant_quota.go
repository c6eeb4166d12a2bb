package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/complyflow/complyflow/internal/domain/event"
	"github.com/complyflow/complyflow/internal/domain/ratelimit"
)

// ErrRateLimited is returned when a tenant exceeded its ingest quota.
var ErrRateLimited = errors.New("tenant ingest quota exceeded")

// RateLimitError carries how long the producer should wait.
type RateLimitError struct {
	TenantID   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: tenant %s, retry after %s", ErrRateLimited, e.TenantID, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// EventPublisher is what ingest adapters publish to. *EventBus and
// *TenantQuota implement it.
type EventPublisher interface {
	Publish(ctx context.Context, ev event.Event) error
	PublishSync(ctx context.Context, ev event.Event) (EventOutcome, error)
}

// TenantQuota limits how many events each tenant may publish. Events over
// the quota are refused before they reach the queue.
type TenantQuota struct {
	next    EventPublisher
	limiter ratelimit.RateLimiter
	cfg     ratelimit.Config
	logger  *slog.Logger
	metrics *EngineMetrics
}

// QuotaOption configures TenantQuota.
type QuotaOption func(*TenantQuota)

// WithQuotaMetrics counts refused events.
func WithQuotaMetrics(m *EngineMetrics) QuotaOption {
	return func(q *TenantQuota) { q.metrics = m }
}

// NewTenantQuota wraps next with a per-tenant limit of cfg.
func NewTenantQuota(next EventPublisher, limiter ratelimit.RateLimiter, cfg ratelimit.Config, logger *slog.Logger, opts ...QuotaOption) *TenantQuota {
	q := &TenantQuota{next: next, limiter: limiter, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish checks the tenant's quota and forwards ev.
func (q *TenantQuota) Publish(ctx context.Context, ev event.Event) error {
	if err := q.admit(ctx, ev); err != nil {
		return err
	}
	return q.next.Publish(ctx, ev)
}

// PublishSync checks the tenant's quota and processes ev synchronously.
func (q *TenantQuota) PublishSync(ctx context.Context, ev event.Event) (EventOutcome, error) {
	if err := q.admit(ctx, ev); err != nil {
		return EventOutcome{}, err
	}
	return q.next.PublishSync(ctx, ev)
}

func (q *TenantQuota) admit(ctx context.Context, ev event.Event) error {
	// Envelopes without a tenant fail validation downstream.
	if ev.TenantID == "" {
		return nil
	}
	res, err := q.limiter.Allow(ctx, ratelimit.FormatKey(ratelimit.KeyTypeTenant, ev.TenantID), q.cfg)
	if err != nil {
		// Limiter failures admit the event.
		q.logger.Warn("rate limiter failed, admitting event", "tenant", ev.TenantID, "error", err)
		return nil
	}
	if res.Allowed {
		return nil
	}
	q.metrics.incThrottled()
	q.logger.Debug("event throttled", "event", ev.ID, "tenant", ev.TenantID, "retry_after", res.RetryAfter)
	return &RateLimitError{TenantID: ev.TenantID, RetryAfter: res.RetryAfter}
}

var (
	_ EventPublisher = (*EventBus)(nil)
	_ EventPublisher = (*TenantQuota)(nil)
)
