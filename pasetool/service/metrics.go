package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the edit engine.
// It satisfies paseto.Observer.
type Metrics struct {
	PendingEdits prometheus.Gauge
	EditsArmed   prometheus.Counter
	EditsClaimed prometheus.Counter
	Decisions    *prometheus.CounterVec
	RequestsSent prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		PendingEdits: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pasetool",
				Name:      "pending_edits",
				Help:      "Number of edits waiting for their tagged request",
			},
		),
		EditsArmed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pasetool",
				Name:      "edits_armed_total",
				Help:      "Total token edits queued",
			},
		),
		EditsClaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pasetool",
				Name:      "edits_claimed_total",
				Help:      "Total queued edits removed by substitution, cancel or expiry",
			},
		),
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pasetool",
				Name:      "decisions_total",
				Help:      "Interception decisions by verdict",
			},
			[]string{"verdict"}, // passthrough/substituted/stale_marker
		),
		RequestsSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pasetool",
				Name:      "requests_sent_total",
				Help:      "Total requests issued by request_send and paseto_edit",
			},
		),
	}
}

func (m *Metrics) Armed(pending int) {
	m.EditsArmed.Inc()
	m.PendingEdits.Set(float64(pending))
}

func (m *Metrics) Claimed(pending int) {
	m.EditsClaimed.Inc()
	m.PendingEdits.Set(float64(pending))
}

func (m *Metrics) Decided(outcome string) {
	m.Decisions.WithLabelValues(outcome).Inc()
}
