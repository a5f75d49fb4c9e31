// Package ratelimit implements client-side admission control: a token bucket,
// the server's advertised limits, a sliding request window, and the adaptive
// limiter that ties them together.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/egorkaBurkenya/resilient-api/clock"
)

// TokenBucket is a capacity-bounded pool of send credits refilled continuously.
//
// Storage and refill arithmetic are delegated to a rate.Limiter that is always
// advanced with instants taken from the bucket's clock, so a fake clock drives
// refill exactly. The limiter never lends tokens here: only AllowN is used, so
// the balance stays within [0, capacity].
type TokenBucket struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	clock clock.Clock
}

// NewTokenBucket returns a full bucket. A capacity below 1 is raised to 1 and a
// non-positive refill rate is raised to minRate.
func NewTokenBucket(capacity int, refillRate float64, clk clock.Clock) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = minRate
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &TokenBucket{
		lim:   rate.NewLimiter(rate.Limit(refillRate), capacity),
		clock: clk,
	}
}

// TryConsume refills the bucket for the time elapsed since the last refill and
// deducts n tokens when that many are available.
func (b *TokenBucket) TryConsume(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lim.AllowN(b.clock.Now(), n)
}

// EstimatedWait reports how long until n tokens will be available at the
// current refill rate. It returns 0 when they already are.
func (b *TokenBucket) EstimatedWait(n int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.lim.TokensAt(b.clock.Now())
	if tokens >= float64(n) {
		return 0
	}
	secs := (float64(n) - tokens) / float64(b.lim.Limit())
	return time.Duration(math.Ceil(secs * float64(time.Second)))
}

// Tokens returns the current balance after refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return math.Max(0, b.lim.TokensAt(b.clock.Now()))
}

// Capacity returns the maximum burst.
func (b *TokenBucket) Capacity() int {
	return b.lim.Burst()
}

// Rate returns the refill rate in tokens per second.
func (b *TokenBucket) Rate() float64 {
	return float64(b.lim.Limit())
}

// SetRate changes the refill rate. Tokens accrued at the old rate up to now are kept.
func (b *TokenBucket) SetRate(r float64) {
	if r <= 0 {
		r = minRate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lim.SetLimitAt(b.clock.Now(), rate.Limit(r))
}
