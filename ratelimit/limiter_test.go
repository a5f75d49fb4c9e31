package ratelimit

import (
	"context"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorkaBurkenya/resilient-api/clock"
)

// stealingClock runs onWake after each sleep, letting a test simulate a
// concurrent consumer that grabs the token being waited for.
type stealingClock struct {
	*clock.Fake
	onWake func()
}

func (c *stealingClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.Fake.Sleep(ctx, d); err != nil {
		return err
	}
	if c.onWake != nil {
		c.onWake()
	}
	return nil
}

func newTestLimiter(t *testing.T, rps float64, burst int, adaptive bool) (*Limiter, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return New(Config{RequestsPerSecond: rps, BurstLimit: burst, Adaptive: adaptive}, WithClock(clk)), clk
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, time.Second, ExponentialBackoff(-1))
	assert.Equal(t, time.Second, ExponentialBackoff(0))
	assert.Equal(t, 2*time.Second, ExponentialBackoff(1))
	assert.Equal(t, 32*time.Second, ExponentialBackoff(5))
	assert.Equal(t, 60*time.Second, ExponentialBackoff(6))
	assert.Equal(t, 60*time.Second, ExponentialBackoff(100))
}

func TestLimiter_AcquireWithinBurst(t *testing.T) {
	l, clk := newTestLimiter(t, 1, 2, true)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))

	assert.Empty(t, clk.Sleeps())
	assert.Equal(t, 2, l.Snapshot(context.Background()).RecentRequestsPerMinute)
}

func TestLimiter_AcquireWaitsForRefill(t *testing.T) {
	l, clk := newTestLimiter(t, 1, 2, true)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}

	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
	assert.Equal(t, epoch.Add(time.Second), clk.Now())
}

func TestLimiter_AcquireFallbackWhenTokenStolen(t *testing.T) {
	fake := clock.NewFake(epoch)
	sc := &stealingClock{Fake: fake}
	l := New(Config{RequestsPerSecond: 1, BurstLimit: 1}, WithClock(sc))
	require.NoError(t, l.Acquire(context.Background()))

	stolen := false
	sc.onWake = func() {
		if !stolen {
			stolen = true
			require.True(t, l.bucket.TryConsume(1))
		}
	}

	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, []time.Duration{time.Second, defaultFallbackWait}, fake.Sleeps())
}

func TestLimiter_AcquireCancelled(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 1, true)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.InDelta(t, 0, l.bucket.Tokens(), 1e-9, "consumed token is not refunded")
	assert.Equal(t, 1, l.Snapshot(context.Background()).RecentRequestsPerMinute)
}

func TestLimiter_PenalizeWaitSelection(t *testing.T) {
	t.Run("hint wins", func(t *testing.T) {
		l, _ := newTestLimiter(t, 10, 10, true)
		l.Observe(http.Header{"Retry-After": []string{"9"}})
		assert.Equal(t, 5*time.Second, l.Penalize(5*time.Second))
	})

	t.Run("advertised retry-after is used without a hint", func(t *testing.T) {
		l, _ := newTestLimiter(t, 10, 10, true)
		l.Observe(http.Header{"Retry-After": []string{"9"}})
		assert.Equal(t, 9*time.Second, l.Penalize(0))
	})

	t.Run("exponential by consecutive throttles", func(t *testing.T) {
		l, _ := newTestLimiter(t, 10, 10, true)
		assert.Equal(t, 2*time.Second, l.Penalize(0))
		assert.Equal(t, 4*time.Second, l.Penalize(0))
		assert.Equal(t, 8*time.Second, l.Penalize(0))
		for i := 0; i < 10; i++ {
			l.Penalize(0)
		}
		assert.Equal(t, 60*time.Second, l.Penalize(0))
	})
}

func TestLimiter_AdaptiveDecayAndRecover(t *testing.T) {
	l, _ := newTestLimiter(t, 10, 20, true)

	l.Penalize(0)
	assert.Equal(t, 10.0, l.CurrentRate(), "a single throttle does not reduce the rate")

	for k := 2; k <= 12; k++ {
		l.Penalize(0)
		bound := math.Max(1, 10*math.Pow(0.8, float64(k)))
		assert.InDelta(t, bound, l.CurrentRate(), 1e-9, "after %d throttles", k)
	}
	assert.Equal(t, 1.0, l.CurrentRate())
	assert.Equal(t, 12, l.Snapshot(context.Background()).ConsecutiveRateLimits)

	l.Recover()
	assert.Equal(t, 10.0, l.CurrentRate())
	assert.Zero(t, l.Snapshot(context.Background()).ConsecutiveRateLimits)
}

func TestLimiter_DecayRecomputedFromBaseline(t *testing.T) {
	l, _ := newTestLimiter(t, 100, 100, true)
	l.Penalize(0)
	l.Penalize(0)
	assert.InDelta(t, 64, l.CurrentRate(), 1e-9)
	l.Penalize(0)
	assert.InDelta(t, 51.2, l.CurrentRate(), 1e-9)
}

func TestLimiter_DecayFloorBelowOnePerSecond(t *testing.T) {
	l, _ := newTestLimiter(t, 0.5, 1, true)
	for i := 0; i < 5; i++ {
		l.Penalize(0)
	}
	assert.Equal(t, 0.5, l.CurrentRate(), "the floor never raises the rate above its baseline")
}

func TestLimiter_NonAdaptive(t *testing.T) {
	l, _ := newTestLimiter(t, 10, 10, false)

	l.Observe(http.Header{"Retry-After": []string{"9"}, "X-Ratelimit-Remaining": []string{"3"}})
	assert.Nil(t, l.Info().RemainingRequests)

	for i := 0; i < 4; i++ {
		l.Penalize(0)
	}
	assert.Equal(t, 10.0, l.CurrentRate())

	l.Recover()
	assert.Zero(t, l.Snapshot(context.Background()).ConsecutiveRateLimits)
}

func TestLimiter_ObserveIgnoresMalformed(t *testing.T) {
	l, _ := newTestLimiter(t, 10, 10, true)

	l.Observe(http.Header{
		"X-Ratelimit-Remaining": []string{"42"},
		"X-Ratelimit-Reset":     []string{"1719137730.5"},
		"Retry-After":           []string{"3"},
	})
	l.Observe(http.Header{
		"X-Ratelimit-Remaining": []string{"many"},
		"X-Ratelimit-Reset":     []string{"soon"},
		"Retry-After":           []string{"later"},
	})

	info := l.Info()
	require.NotNil(t, info.RemainingRequests)
	assert.Equal(t, 42, *info.RemainingRequests)
	require.NotNil(t, info.ResetTime)
	assert.Equal(t, time.Unix(1719137730, 500_000_000), *info.ResetTime)
	assert.Equal(t, 3*time.Second, info.RetryAfter)
}

func TestLimiter_Snapshot(t *testing.T) {
	l, clk := newTestLimiter(t, 5, 10, true)
	require.NoError(t, l.Acquire(context.Background()))
	clk.Advance(30 * time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	l.Observe(http.Header{"X-Ratelimit-Remaining": []string{"7"}})

	s := l.Snapshot(context.Background())
	assert.Equal(t, 5.0, s.RequestsPerSecond)
	assert.Equal(t, 5.0, s.CurrentRate)
	assert.Equal(t, 10, s.BurstLimit)
	assert.InDelta(t, 9, s.AvailableTokens, 1e-9)
	assert.Equal(t, 2, s.RecentRequestsPerMinute)
	require.NotNil(t, s.RemainingRequests)
	assert.Equal(t, 7, *s.RemainingRequests)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, l.Snapshot(context.Background()).RecentRequestsPerMinute)
}
