package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the trust index module.
type Metrics struct {
	// Probe round-trip latency by provider and capability
	ProbeDuration *prometheus.HistogramVec

	// Failed probes by provider and failure class
	ProbeFailures *prometheus.CounterVec

	// Calculate outcomes: computed, whitelisted, error
	Calculations *prometheus.CounterVec

	// Distribution of computed index values
	IndexValue prometheus.Histogram

	// Lookups by kind: whitelisted, stored, unknown
	Lookups *prometheus.CounterVec

	// Full aggregation latency including every probe
	CalculateDuration prometheus.Histogram

	// Circuit breaker transitions by provider and new state
	BreakerTransitions *prometheus.CounterVec
}

// New registers the module metrics with reg. A nil registerer creates
// unregistered collectors, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProbeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustindex_probe_duration_seconds",
			Help:    "Duration of provider probes",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "capability"}),

		ProbeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustindex_probe_failures_total",
			Help: "Probes that produced no score, by provider and failure class",
		}, []string{"provider", "class"}),

		Calculations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustindex_calculations_total",
			Help: "Trust index calculations by outcome",
		}, []string{"outcome"}),

		IndexValue: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustindex_index_value",
			Help:    "Computed trust index values",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustindex_lookups_total",
			Help: "Trust index lookups by kind",
		}, []string{"kind"}),

		CalculateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustindex_calculate_duration_seconds",
			Help:    "Duration of a full aggregation run",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustindex_breaker_transitions_total",
			Help: "Provider circuit breaker state changes",
		}, []string{"provider", "state"}),
	}
}

func (m *Metrics) ObserveProbe(provider, capability string, d time.Duration) {
	if m != nil {
		m.ProbeDuration.WithLabelValues(provider, capability).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementProbeFailure(provider, class string) {
	if m != nil {
		m.ProbeFailures.WithLabelValues(provider, class).Inc()
	}
}

func (m *Metrics) IncrementCalculation(outcome string) {
	if m != nil {
		m.Calculations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveIndex(v float64) {
	if m != nil {
		m.IndexValue.Observe(v)
	}
}

func (m *Metrics) IncrementLookup(kind string) {
	if m != nil {
		m.Lookups.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveCalculate(d time.Duration) {
	if m != nil {
		m.CalculateDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementBreakerTransition(provider, state string) {
	if m != nil {
		m.BreakerTransitions.WithLabelValues(provider, state).Inc()
	}
}
