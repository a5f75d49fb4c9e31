package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

// statsCollector reads a client's counters at scrape time.
type statsCollector struct {
	provider resilient.StatsProvider

	total       *prometheus.Desc
	successful  *prometheus.Desc
	failed      *prometheus.Desc
	rateLimited *prometheus.Desc
	retried     *prometheus.Desc
	tokens      *prometheus.Desc
	recent      *prometheus.Desc
	throttles   *prometheus.Desc
	remaining   *prometheus.Desc
}

// RegisterStats exposes provider's counters under the resilient_client_ prefix.
// name is attached as the "client" label so several clients can share reg.
func RegisterStats(reg prometheus.Registerer, name string, provider resilient.StatsProvider) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"client": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "client", metric), help, nil, labels)
	}

	return reg.Register(&statsCollector{
		provider:    provider,
		total:       desc("attempts_total", "Attempts sent, retries included"),
		successful:  desc("successful_requests_total", "Logical requests that succeeded"),
		failed:      desc("failed_requests_total", "Logical requests that failed"),
		rateLimited: desc("rate_limited_total", "Attempts answered with 429"),
		retried:     desc("retries_total", "Attempts after the first of a logical request"),
		tokens:      desc("available_tokens", "Tokens currently in the bucket"),
		recent:      desc("recent_requests_per_minute", "Requests admitted in the last 60 seconds"),
		throttles:   desc("consecutive_rate_limits", "Current streak of throttled attempts"),
		remaining:   desc("server_remaining_requests", "Last X-RateLimit-Remaining advertised by the server"),
	})
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.successful
	ch <- c.failed
	ch <- c.rateLimited
	ch <- c.retried
	ch <- c.tokens
	ch <- c.recent
	ch <- c.throttles
	ch <- c.remaining
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.Stats()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.successful, prometheus.CounterValue, float64(s.SuccessfulRequests))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.rateLimited, prometheus.CounterValue, float64(s.RateLimitedRequests))
	ch <- prometheus.MustNewConstMetric(c.retried, prometheus.CounterValue, float64(s.RetriedRequests))

	if rl := s.RateLimit; rl != nil {
		ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.GaugeValue, rl.AvailableTokens)
		ch <- prometheus.MustNewConstMetric(c.recent, prometheus.GaugeValue, float64(rl.RecentRequestsPerMinute))
		ch <- prometheus.MustNewConstMetric(c.throttles, prometheus.GaugeValue, float64(rl.ConsecutiveRateLimits))
		if rl.RemainingRequests != nil {
			ch <- prometheus.MustNewConstMetric(c.remaining, prometheus.GaugeValue, float64(*rl.RemainingRequests))
		}
	}
}
