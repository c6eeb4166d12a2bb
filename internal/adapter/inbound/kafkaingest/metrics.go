package kafkaingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of Kafka ingestion.
type Metrics struct {
	MessagesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complyflow",
				Name:      "kafka_messages_total",
				Help:      "Event messages consumed from Kafka by result",
			},
			[]string{"result"}, // processed/rejected/retried/failed
		),
	}
}

func (m *Metrics) consumed(result string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(result).Inc()
}
