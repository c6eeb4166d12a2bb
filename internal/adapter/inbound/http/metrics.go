package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the HTTP surface.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	EventsIngested  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"handler", "method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "complyflow",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
		EventsIngested: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "events_ingested_total",
				Help:      "Events received over HTTP by result",
			},
			[]string{"result"}, // accepted/processed/rejected/dropped/failed/unauthorized
		),
	}
}

func (m *Metrics) ingested(result string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(result).Inc()
}
