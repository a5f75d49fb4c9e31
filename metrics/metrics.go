// Package metrics exports client activity to Prometheus. Metrics implements
// resilient.Observer; RegisterStats exposes a client's counters as collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

const namespace = "resilient"

var _ resilient.Observer = (*Metrics)(nil)

// Metrics holds the client collectors. Its methods record Observer events.
type Metrics struct {
	AttemptsTotal          *prometheus.CounterVec
	AttemptDurationSeconds prometheus.Histogram
	BackoffSeconds         *prometheus.HistogramVec
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds prometheus.Histogram
	RefillRate             prometheus.Gauge
}

// New registers the client metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of HTTP attempts by outcome and status code",
		}, []string{"outcome", "status"}),
		AttemptDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of single HTTP attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		BackoffSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Scheduled waits between attempts in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 4, 8, 16, 32, 60},
		}, []string{"reason"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of logical requests by result",
		}, []string{"result"}),
		RequestDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of logical requests including retries and waits",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RefillRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refill_rate",
			Help:      "Current token refill rate of the client-side limiter in tokens per second",
		}),
	}
}

// AttemptFinished counts an attempt by outcome and status and records its latency.
func (m *Metrics) AttemptFinished(outcome string, status int, elapsed time.Duration) {
	m.AttemptsTotal.WithLabelValues(outcome, statusLabel(status)).Inc()
	m.AttemptDurationSeconds.Observe(elapsed.Seconds())
}

// BackoffScheduled records a wait before the next attempt, labelled by reason.
func (m *Metrics) BackoffScheduled(reason string, wait time.Duration) {
	m.BackoffSeconds.WithLabelValues(reason).Observe(wait.Seconds())
}

// RequestFinished counts a finished request by result and records its total duration.
func (m *Metrics) RequestFinished(result string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(result).Inc()
	m.RequestDurationSeconds.Observe(elapsed.Seconds())
}

// RateChanged sets the limiter refill rate gauge.
func (m *Metrics) RateChanged(rate float64) {
	m.RefillRate.Set(rate)
}

func statusLabel(status int) string {
	if status == 0 {
		return "none"
	}
	return strconv.Itoa(status)
}
