// Package natsingest feeds events published on a NATS subject into the
// event bus. Request/reply publishers get an acknowledgement per event.
package natsingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/complyflow/complyflow/internal/domain/event"
	"github.com/complyflow/complyflow/internal/service"
)

// Publisher hands events to the rule engine. *service.EventBus and
// *service.TenantQuota implement it.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Config holds the connection and subscription settings.
type Config struct {
	URL     string
	Subject string
	// Queue makes replicas share the subject as a queue group.
	Queue string
	// Name identifies the connection on the server.
	Name          string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Ack is the reply sent to request/reply publishers.
type Ack struct {
	EventID  string `json:"event_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Status   string `json:"status"` // accepted/rejected/dropped/throttled
	Error    string `json:"error,omitempty"`
}

// Subscriber consumes event envelopes from a NATS subject.
type Subscriber struct {
	cfg       Config
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

// WithMetrics counts received messages by result.
func WithMetrics(m *Metrics) Option {
	return func(s *Subscriber) { s.metrics = m }
}

// New creates a Subscriber. Start connects it.
func New(cfg Config, publisher Publisher, opts ...Option) *Subscriber {
	if cfg.Name == "" {
		cfg.Name = "complyflow"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	s := &Subscriber{
		cfg:       cfg,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subscriber) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(s.cfg.Name),
		nats.MaxReconnects(s.cfg.MaxReconnects),
		nats.ReconnectWait(s.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			s.logger.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if s.cfg.Token != "" {
		opts = append(opts, nats.Token(s.cfg.Token))
	}
	return opts
}

// Start connects and subscribes. Messages are published to the bus with
// ctx until Close.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.cfg.Subject == "" {
		return errors.New("nats subject is required")
	}

	conn, err := nats.Connect(s.cfg.URL, s.connectionOptions()...)
	if err != nil {
		return fmt.Errorf("connect to nats %s: %w", s.cfg.URL, err)
	}

	handler := func(msg *nats.Msg) { s.handleMsg(ctx, msg) }
	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, handler)
	} else {
		sub, err = conn.Subscribe(s.cfg.Subject, handler)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Subject, err)
	}

	s.mu.Lock()
	s.conn, s.sub = conn, sub
	s.mu.Unlock()

	s.logger.Info("nats ingest started", "url", conn.ConnectedUrlRedacted(), "subject", s.cfg.Subject, "queue", s.cfg.Queue)
	return nil
}

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn, s.sub = nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

func (s *Subscriber) handleMsg(ctx context.Context, msg *nats.Msg) {
	ack := s.ingest(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.logger.Error("failed to encode ack", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply", "subject", msg.Reply, "error", err)
	}
}

// ingest decodes one envelope and publishes it.
func (s *Subscriber) ingest(ctx context.Context, data []byte) Ack {
	ev, err := event.Decode(data)
	if err != nil {
		s.metrics.received("rejected")
		s.logger.Warn("rejected nats event", "error", err)
		return Ack{Status: "rejected", Error: err.Error()}
	}

	if err := s.publisher.Publish(ctx, ev); err != nil {
		status := "dropped"
		switch {
		case errors.Is(err, event.ErrInvalidEvent):
			status = "rejected"
		case errors.Is(err, service.ErrRateLimited):
			status = "throttled"
		}
		s.metrics.received(status)
		s.logger.Warn("nats event not published", "event", ev.ID, "tenant", ev.TenantID, "error", err)
		return Ack{EventID: ev.ID, TenantID: ev.TenantID, Status: status, Error: err.Error()}
	}

	s.metrics.received("accepted")
	return Ack{EventID: ev.ID, TenantID: ev.TenantID, Status: "accepted"}
}
