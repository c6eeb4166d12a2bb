package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

// EngineMetrics holds the Prometheus metrics of the rule engine and event bus.
// A nil *EngineMetrics records nothing.
type EngineMetrics struct {
	EventsTotal     *prometheus.CounterVec
	EventDuration   prometheus.Histogram
	RuleOutcomes    *prometheus.CounterVec
	ActionsTotal    *prometheus.CounterVec
	StatsErrors     prometheus.Counter
	BusDropsTotal   prometheus.Counter
	BusRetriesTotal prometheus.Counter
	ThrottledTotal  prometheus.Counter
}

// NewEngineMetrics creates and registers the engine metrics with reg.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	return &EngineMetrics{
		EventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "events_total",
				Help:      "Total events processed by the rule engine",
			},
			[]string{"outcome"}, // outcome=processed/store_error
		),
		EventDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "complyflow",
				Name:      "event_duration_seconds",
				Help:      "Time to evaluate all candidate rules for one event",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RuleOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "rule_evaluations_total",
				Help:      "Rule evaluations by outcome status",
			},
			[]string{"status"}, // no_match/success/partial_failure/error
		),
		ActionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "actions_total",
				Help:      "Actions executed by genuine dispatches",
			},
			[]string{"action_type", "result"}, // result=ok/error
		),
		StatsErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "rule_stats_errors_total",
				Help:      "Failed rule statistics updates",
			},
		),
		BusDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "event_bus_drops_total",
				Help:      "Events dropped because the bus queue was full",
			},
		),
		BusRetriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "event_bus_retries_total",
				Help:      "Event passes retried after a store failure",
			},
		),
		ThrottledTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "events_throttled_total",
				Help:      "Events refused because the tenant exceeded its ingest quota",
			},
		),
	}
}

func (m *EngineMetrics) observeEvent(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(outcome).Inc()
	m.EventDuration.Observe(d.Seconds())
}

func (m *EngineMetrics) observeRule(res automation.ExecutionResult) {
	if m == nil {
		return
	}
	m.RuleOutcomes.WithLabelValues(string(res.Status())).Inc()
	for _, a := range res.ActionResults {
		result := "ok"
		if !a.Success {
			result = "error"
		}
		m.ActionsTotal.WithLabelValues(a.ActionType, result).Inc()
	}
	if res.StatsError != "" {
		m.StatsErrors.Inc()
	}
}

func (m *EngineMetrics) incBusDrop() {
	if m != nil {
		m.BusDropsTotal.Inc()
	}
}

func (m *EngineMetrics) incBusRetry() {
	if m != nil {
		m.BusRetriesTotal.Inc()
	}
}

func (m *EngineMetrics) incThrottled() {
	if m != nil {
		m.ThrottledTotal.Inc()
	}
}
