package resilient

import (
	"sync/atomic"

	"github.com/egorkaBurkenya/resilient-api/ratelimit"
)

// Stats is a snapshot of a client's counters.
type Stats struct {
	TotalRequests       uint64 `json:"total_requests"`
	SuccessfulRequests  uint64 `json:"successful_requests"`
	FailedRequests      uint64 `json:"failed_requests"`
	RateLimitedRequests uint64 `json:"rate_limited_requests"`
	RetriedRequests     uint64 `json:"retried_requests"`

	// RateLimit is nil when client-side rate limiting is disabled.
	RateLimit *ratelimit.Stats `json:"rate_limit,omitempty"`
}

// StatsProvider exposes metrics for external collectors (Prometheus, OTel, etc.).
type StatsProvider interface {
	Stats() Stats
}

// StatsRegistry holds monotonically increasing request counters. TotalRequests
// and RetriedRequests count attempts; the others count logical requests, except
// RateLimitedRequests which counts throttled attempts.
type StatsRegistry struct {
	total       atomic.Uint64
	successful  atomic.Uint64
	failed      atomic.Uint64
	rateLimited atomic.Uint64
	retried     atomic.Uint64
}

func (r *StatsRegistry) attempt(n int) {
	r.total.Add(1)
	if n > 0 {
		r.retried.Add(1)
	}
}

func (r *StatsRegistry) success()   { r.successful.Add(1) }
func (r *StatsRegistry) failure()   { r.failed.Add(1) }
func (r *StatsRegistry) throttled() { r.rateLimited.Add(1) }

// Snapshot reads every counter without locking.
func (r *StatsRegistry) Snapshot() Stats {
	return Stats{
		TotalRequests:       r.total.Load(),
		SuccessfulRequests:  r.successful.Load(),
		FailedRequests:      r.failed.Load(),
		RateLimitedRequests: r.rateLimited.Load(),
		RetriedRequests:     r.retried.Load(),
	}
}
