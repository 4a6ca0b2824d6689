// Package metrics provides observability for the verification module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the verification module.
type Metrics struct {
	// Sessions started by channel and tier
	SessionsStarted *prometheus.CounterVec

	// Callback processing outcomes by result
	CallbackOutcome *prometheus.CounterVec

	// Callback processing latency
	CallbackLatency prometheus.Histogram

	// Sessions reaped to expired
	SessionsExpired prometheus.Counter

	// Users whose composite crossed the passing threshold
	ThresholdCrossings prometheus.Counter

	// Composite scores observed after recompute
	CompositeScore prometheus.Histogram
}

// New creates a Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofgate_verification_sessions_started_total",
			Help: "Total verification sessions started by channel and tier",
		}, []string{"channel", "tier"}),

		CallbackOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofgate_verification_callbacks_total",
			Help: "Total provider callbacks by outcome",
		}, []string{"outcome"}), // outcome: "completed", "failed", "replay", "conflict", "rejected", "expired"

		CallbackLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofgate_verification_callback_duration_seconds",
			Help:    "Duration of callback processing including score recompute",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofgate_verification_sessions_expired_total",
			Help: "Total sessions transitioned to expired by the reaper",
		}),

		ThresholdCrossings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofgate_verification_threshold_crossings_total",
			Help: "Total users whose composite score first crossed the passing threshold",
		}),

		CompositeScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofgate_verification_composite_score",
			Help:    "Composite scores observed after recompute",
			Buckets: []float64{0, 25, 50, 75, 100, 125, 150, 175, 200, 225, 255},
		}),
	}
}

// IncrementSessionsStarted records a new session.
func (m *Metrics) IncrementSessionsStarted(channel string, tier string) {
	if m != nil {
		m.SessionsStarted.WithLabelValues(channel, tier).Inc()
	}
}

// IncrementCallbackOutcome records a processed callback by outcome.
func (m *Metrics) IncrementCallbackOutcome(outcome string) {
	if m != nil {
		m.CallbackOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveCallbackLatency records the total callback processing duration.
func (m *Metrics) ObserveCallbackLatency(d time.Duration) {
	if m != nil {
		m.CallbackLatency.Observe(d.Seconds())
	}
}

// IncrementSessionsExpired records a session reaped to expired.
func (m *Metrics) IncrementSessionsExpired() {
	if m != nil {
		m.SessionsExpired.Inc()
	}
}

// IncrementThresholdCrossings records a first-time threshold crossing.
func (m *Metrics) IncrementThresholdCrossings() {
	if m != nil {
		m.ThresholdCrossings.Inc()
	}
}

// ObserveCompositeScore records a recomputed composite score.
func (m *Metrics) ObserveCompositeScore(score int) {
	if m != nil {
		m.CompositeScore.Observe(float64(score))
	}
}
