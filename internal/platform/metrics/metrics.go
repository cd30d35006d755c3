package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the application. Every method is
// safe on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	Submissions          *prometheus.CounterVec
	SinkOutcomes         *prometheus.CounterVec
	PersistLatency       prometheus.Histogram
	SinkLatency          *prometheus.HistogramVec
	BroadcastSubscribers prometheus.Gauge
	BroadcastDropped     prometheus.Counter
	BreakerOpen          *prometheus.GaugeVec
}

// New creates and registers all metrics on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_submissions_total",
			Help: "Audit event submissions by outcome",
		}, []string{"outcome"}), // accepted, rejected, persistence_failure, adapter_unreachable

		SinkOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_sink_outcomes_total",
			Help: "Best-effort sink attempts by sink and outcome",
		}, []string{"sink", "outcome"}),

		PersistLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_persist_duration_seconds",
			Help:    "Duration of record store appends",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		SinkLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_sink_duration_seconds",
			Help:    "Duration of best-effort sink attempts",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"sink"}),

		BroadcastSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "audit_broadcast_subscribers",
			Help: "Live subscribers currently in the active set",
		}),

		BroadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_broadcast_dropped_total",
			Help: "Subscribers dropped after a failed send",
		}),

		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audit_sink_breaker_open",
			Help: "Sink circuit breaker state (0=closed, 1=open)",
		}, []string{"sink"}),
	}
}

// IncSubmission counts a submission outcome.
func (m *Metrics) IncSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

// ObserveSink records one sink attempt.
func (m *Metrics) ObserveSink(sink, outcome string, d time.Duration) {
	if m != nil {
		m.SinkOutcomes.WithLabelValues(sink, outcome).Inc()
		m.SinkLatency.WithLabelValues(sink).Observe(d.Seconds())
	}
}

// ObservePersist records a record store append duration.
func (m *Metrics) ObservePersist(d time.Duration) {
	if m != nil {
		m.PersistLatency.Observe(d.Seconds())
	}
}

// SetSubscribers sets the live subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m != nil {
		m.BroadcastSubscribers.Set(float64(n))
	}
}

// AddDropped counts subscribers dropped after failed sends.
func (m *Metrics) AddDropped(n int) {
	if m != nil && n > 0 {
		m.BroadcastDropped.Add(float64(n))
	}
}

// SetBreakerOpen records a sink breaker state.
func (m *Metrics) SetBreakerOpen(sink string, open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.WithLabelValues(sink).Set(1)
	} else {
		m.BreakerOpen.WithLabelValues(sink).Set(0)
	}
}
