package natsingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of NATS ingestion.
type Metrics struct {
	MessagesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "nats_messages_total",
				Help:      "Event messages received over NATS by result",
			},
			[]string{"result"}, // accepted/rejected/dropped
		),
	}
}

func (m *Metrics) received(result string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(result).Inc()
}
