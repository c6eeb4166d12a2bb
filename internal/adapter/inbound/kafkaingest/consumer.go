// Package kafkaingest feeds events from a Kafka topic into the rule engine.
// An offset is committed only after the event's pass has completed, so a
// crash or a failed pass leaves the message to be redelivered.
package kafkaingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/complyflow/complyflow/internal/domain/event"
	"github.com/complyflow/complyflow/internal/service"
)

// Publisher runs an event through the rule engine and waits for the pass.
// *service.EventBus and *service.TenantQuota implement it.
type Publisher interface {
	PublishSync(ctx context.Context, ev event.Event) (service.EventOutcome, error)
}

// commitTimeout bounds the commit of a completed pass once ctx is cancelled.
const commitTimeout = 5 * time.Second

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the reader settings.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
}

// Consumer reads event envelopes from a topic as part of a consumer group.
type Consumer struct {
	reader    messageReader
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics

	retryBase time.Duration
	retryMax  time.Duration
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.logger = l }
}

// WithMetrics counts consumed messages by result.
func WithMetrics(m *Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithRetryInterval bounds the wait between attempts to process an event
// refused by the tenant quota or blocked by an unavailable store.
func WithRetryInterval(initial, max time.Duration) Option {
	return func(c *Consumer) {
		if initial > 0 {
			c.retryBase = initial
		}
		if max >= c.retryBase {
			c.retryMax = max
		}
	}
}

// New creates a Consumer backed by a kafka-go group reader.
func New(cfg Config, publisher Publisher, opts ...Option) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka brokers, topic and group_id are required")
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return newConsumer(reader, publisher, opts...), nil
}

func newConsumer(reader messageReader, publisher Publisher, opts ...Option) *Consumer {
	c := &Consumer{
		reader:    reader,
		publisher: publisher,
		logger:    slog.Default(),
		retryBase: 100 * time.Millisecond,
		retryMax:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled, which is not an error. It returns
// early when fetching, committing or publishing fails for good; the
// offending message stays uncommitted.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.commit(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d of %s/%d: %w", msg.Offset, msg.Topic, msg.Partition, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// commit survives cancellation of ctx so a pass that completed during
// shutdown is not redelivered.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return c.reader.CommitMessages(commitCtx, msg)
}

// Close closes the reader, leaving the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// handle runs one message through the engine. Undecodable messages are
// skipped so they do not block the partition. Events refused by the tenant
// quota or hit by an unavailable store are retried until processed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	logger := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	ev, err := event.Decode(msg.Value)
	if err != nil {
		c.metrics.consumed("rejected")
		logger.Warn("skipping invalid kafka event", "error", err)
		return nil
	}

	operation := func() error {
		_, err := c.publisher.PublishSync(ctx, ev)
		if err == nil || errors.Is(err, service.ErrRateLimited) || errors.Is(err, service.ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	policy.MaxInterval = c.retryMax
	policy.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		c.metrics.consumed("retried")
		logger.Warn("event not processed, retrying", "event", ev.ID, "wait", wait, "error", err)
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	switch {
	case err == nil:
		c.metrics.consumed("processed")
		return nil
	case errors.Is(err, event.ErrInvalidEvent):
		c.metrics.consumed("rejected")
		logger.Warn("skipping invalid kafka event", "event", ev.ID, "error", err)
		return nil
	default:
		c.metrics.consumed("failed")
		return fmt.Errorf("process event %s: %w", ev.ID, err)
	}
}
