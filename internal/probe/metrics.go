// Package probe periodically requests configured capsules and exports the
// outcome as Prometheus metrics.
package probe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cartouche"

// Metrics holds all Prometheus metrics for capsule probing.
type Metrics struct {
	ProbesTotal       *prometheus.CounterVec
	ProbeDuration     *prometheus.HistogramVec
	ProbesInFlight    prometheus.Gauge
	QueuedProbes      prometheus.Gauge
	CapsuleUp         *prometheus.GaugeVec
	CertificateExpiry *prometheus.GaugeVec
	TrustDecisions    *prometheus.CounterVec
}

// NewMetrics creates all probe metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of probes by capsule and status category",
			},
			[]string{"capsule", "category"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Time from dial to end of body",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"capsule"},
		),
		ProbesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "probes_in_flight",
				Help:      "Current number of probes being performed",
			},
		),
		QueuedProbes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_probes",
				Help:      "Number of probes waiting in queue",
			},
		),
		CapsuleUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capsule_up",
				Help:      "Whether the last probe got a success or redirect (1=yes, 0=no)",
			},
			[]string{"capsule"},
		),
		CertificateExpiry: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "certificate_expiry_seconds",
				Help:      "Seconds until the capsule certificate expires",
			},
			[]string{"capsule"},
		),
		TrustDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trust_decisions_total",
				Help:      "Verification delegate decisions by issue",
			},
			[]string{"issue", "decision"},
		),
	}
}

// RecordProbe records metrics for a completed probe.
func (m *Metrics) RecordProbe(capsule, category string, d time.Duration) {
	m.ProbesTotal.WithLabelValues(capsule, category).Inc()
	m.ProbeDuration.WithLabelValues(capsule).Observe(d.Seconds())
}

// SetCapsuleUp updates the up state for a capsule.
func (m *Metrics) SetCapsuleUp(capsule string, up bool) {
	if up {
		m.CapsuleUp.WithLabelValues(capsule).Set(1)
	} else {
		m.CapsuleUp.WithLabelValues(capsule).Set(0)
	}
}

// SetCertificateExpiry records the time left before notAfter.
func (m *Metrics) SetCertificateExpiry(capsule string, notAfter, now time.Time) {
	m.CertificateExpiry.WithLabelValues(capsule).Set(notAfter.Sub(now).Seconds())
}

// RecordTrustDecision counts one delegate decision.
func (m *Metrics) RecordTrustDecision(issue, decision string) {
	m.TrustDecisions.WithLabelValues(issue, decision).Inc()
}

// SetQueuedProbes updates the queue length metric.
func (m *Metrics) SetQueuedProbes(n int) {
	m.QueuedProbes.Set(float64(n))
}

// IncProbesInFlight increments the in-flight probes gauge.
func (m *Metrics) IncProbesInFlight() {
	m.ProbesInFlight.Inc()
}

// DecProbesInFlight decrements the in-flight probes gauge.
func (m *Metrics) DecProbesInFlight() {
	m.ProbesInFlight.Dec()
}
