package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/egorkaBurkenya/resilient-api/clock"
)

const (
	// minRate is the floor for an adaptively reduced refill rate, in tokens per second.
	minRate = 1.0
	// decayFactor is applied once per consecutive throttle to the baseline rate.
	decayFactor = 0.8
	// maxBackoff caps ExponentialBackoff.
	maxBackoff = 60 * time.Second

	defaultFallbackWait = 100 * time.Millisecond
)

// ExponentialBackoff returns min(60s, 2^n seconds). Negative n is treated as 0.
func ExponentialBackoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n >= 6 {
		return maxBackoff
	}
	return min(maxBackoff, time.Duration(1<<n)*time.Second)
}

// Config is the limiter's baseline.
type Config struct {
	RequestsPerSecond float64
	BurstLimit        int
	// Adaptive enables header tracking and rate decay on repeated throttling.
	Adaptive bool
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	RequestsPerSecond       float64 `json:"requests_per_second"`
	CurrentRate             float64 `json:"current_rate"`
	BurstLimit              int     `json:"burst_limit"`
	AvailableTokens         float64 `json:"available_tokens"`
	RecentRequestsPerMinute int     `json:"recent_requests_per_minute"`
	ConsecutiveRateLimits   int     `json:"consecutive_rate_limits"`
	RemainingRequests       *int    `json:"remaining_requests"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source used for refill, waits and the request window.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithWindow replaces the in-memory recent-request window.
func WithWindow(w Window) Option {
	return func(l *Limiter) {
		if w != nil {
			l.window = w
		}
	}
}

// WithLogger sets the logger for best-effort failures such as window errors.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithFallbackWait sets the pause taken when a token is still unavailable after
// the estimated wait, which happens when concurrent callers race for the last token.
func WithFallbackWait(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.fallbackWait = d
		}
	}
}

// Limiter is an adaptive token-bucket rate limiter shared by all requests of a client.
type Limiter struct {
	bucket       *TokenBucket
	window       Window
	clock        clock.Clock
	logger       *slog.Logger
	fallbackWait time.Duration
	adaptive     bool

	mu        sync.Mutex
	info      Info
	throttles int
}

// New returns a limiter with a full bucket of cfg.BurstLimit tokens refilled at
// cfg.RequestsPerSecond.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		clock:        clock.Real{},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		fallbackWait: defaultFallbackWait,
		adaptive:     cfg.Adaptive,
	}
	for _, o := range opts {
		o(l)
	}
	if l.window == nil {
		l.window = NewMemoryWindow()
	}

	l.bucket = NewTokenBucket(cfg.BurstLimit, cfg.RequestsPerSecond, l.clock)
	l.info = Info{
		RequestsPerSecond: l.bucket.Rate(),
		BurstLimit:        l.bucket.Capacity(),
	}
	return l
}

// Acquire blocks until a send credit is available or ctx is done. Only the
// calling goroutine waits; no lock is held while sleeping. A token consumed
// before cancellation is not returned to the bucket.
func (l *Limiter) Acquire(ctx context.Context) error {
	if !l.bucket.TryConsume(1) {
		if err := l.clock.Sleep(ctx, l.bucket.EstimatedWait(1)); err != nil {
			return err
		}
		if !l.bucket.TryConsume(1) {
			if err := l.clock.Sleep(ctx, l.fallbackWait); err != nil {
				return err
			}
		}
	}

	if err := l.window.Record(ctx, l.clock.Now()); err != nil {
		l.logger.WarnContext(ctx, "failed to record request in window", slog.Any("error", err))
	}
	return nil
}

// Observe updates the advertised limits from response headers. Absent or
// malformed values leave the previous ones in place. It is a no-op when
// adaptive behaviour is disabled.
func (l *Limiter) Observe(h http.Header) {
	if !l.adaptive || h == nil {
		return
	}
	parsed := ParseHeaders(h, l.clock.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	if parsed.Remaining != nil {
		l.info.RemainingRequests = parsed.Remaining
	}
	if parsed.Reset != nil {
		l.info.ResetTime = parsed.Reset
	}
	if parsed.RetryAfter > 0 {
		l.info.RetryAfter = parsed.RetryAfter
	}
}

// Penalize registers a throttling response and returns how long to wait before
// the next attempt: hint when positive, else the last advertised Retry-After,
// else 2^n seconds (capped at 60s) for the n-th consecutive throttle.
//
// From the second consecutive throttle on, an adaptive limiter also lowers the
// refill rate to baseline*0.8^n. The decay is recomputed from the baseline each
// time rather than compounded on the already reduced rate.
func (l *Limiter) Penalize(hint time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.throttles++

	var wait time.Duration
	switch {
	case hint > 0:
		wait = hint
	case l.info.RetryAfter > 0:
		wait = l.info.RetryAfter
	default:
		wait = ExponentialBackoff(l.throttles)
	}

	if l.adaptive && l.throttles > 1 {
		floor := math.Min(minRate, l.info.RequestsPerSecond)
		reduced := l.info.RequestsPerSecond * math.Pow(decayFactor, float64(l.throttles))
		l.bucket.SetRate(math.Max(floor, reduced))
	}
	return wait
}

// Recover clears the throttle streak after a successful response and restores
// the baseline rate at once.
func (l *Limiter) Recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.throttles == 0 {
		return
	}
	l.throttles = 0
	l.bucket.SetRate(l.info.RequestsPerSecond)
}

// CurrentRate returns the effective refill rate.
func (l *Limiter) CurrentRate() float64 {
	return l.bucket.Rate()
}

// Info returns a copy of the advertised limits.
func (l *Limiter) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

// Snapshot reports the limiter's current state. Besides pruning the request
// window it changes nothing.
func (l *Limiter) Snapshot(ctx context.Context) Stats {
	recent, err := l.window.Count(ctx, l.clock.Now())
	if err != nil {
		l.logger.WarnContext(ctx, "failed to count recent requests", slog.Any("error", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var remaining *int
	if l.info.RemainingRequests != nil {
		n := *l.info.RemainingRequests
		remaining = &n
	}
	return Stats{
		RequestsPerSecond:       l.info.RequestsPerSecond,
		CurrentRate:             l.bucket.Rate(),
		BurstLimit:              l.info.BurstLimit,
		AvailableTokens:         l.bucket.Tokens(),
		RecentRequestsPerMinute: recent,
		ConsecutiveRateLimits:   l.throttles,
		RemainingRequests:       remaining,
	}
}
