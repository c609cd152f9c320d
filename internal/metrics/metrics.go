// Package metrics exposes Prometheus instrumentation for the delivery
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	PassesTotal     prometheus.Counter
	QueueDepth      *prometheus.GaugeVec
}

// New registers the engine's collectors on reg and returns them. Pass nil
// anywhere a Metrics is optional; all record methods are nil-safe.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookline",
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by outcome (sent, retry, failed).",
		}, []string{"outcome"}),
		AttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hookline",
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Wall-clock duration of delivery HTTP attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hookline",
			Name:      "delivery_passes_total",
			Help:      "Completed delivery worker passes.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hookline",
			Name:      "queue_entries",
			Help:      "Queue entries by status, sampled once per pass.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.AttemptsTotal, m.AttemptDuration, m.PassesTotal, m.QueueDepth)
	return m
}

func (m *Metrics) RecordAttempt(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
	m.AttemptDuration.Observe(seconds)
}

func (m *Metrics) RecordPass() {
	if m == nil {
		return
	}
	m.PassesTotal.Inc()
}

func (m *Metrics) SetQueueDepth(status string, n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(status).Set(float64(n))
}
