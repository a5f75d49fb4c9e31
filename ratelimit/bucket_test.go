package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/egorkaBurkenya/resilient-api/clock"
)

var epoch = time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

func TestTokenBucket_TryConsume(t *testing.T) {
	tt := []struct {
		desc        string
		capacity    int
		n           int
		first       bool
		second      bool
		timeAdvance time.Duration
	}{
		{desc: "half the capacity fits twice", capacity: 10, n: 5, first: true, second: true},
		{desc: "more than half fits once", capacity: 10, n: 6, first: true, second: false},
		{desc: "whole capacity fits once", capacity: 10, n: 10, first: true, second: false},
		{desc: "more than capacity never fits", capacity: 10, n: 11, first: false, second: false},
		{desc: "refill makes room again", capacity: 4, n: 4, first: true, second: true, timeAdvance: 4 * time.Second},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			clk := clock.NewFake(epoch)
			b := NewTokenBucket(ts.capacity, 1, clk)

			assert.Equal(t, ts.first, b.TryConsume(ts.n))
			clk.Advance(ts.timeAdvance)
			assert.Equal(t, ts.second, b.TryConsume(ts.n))
		})
	}
}

func TestTokenBucket_BalanceBounds(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := NewTokenBucket(3, 2, clk)

	assert.InDelta(t, 3, b.Tokens(), 1e-9)

	for i := 0; i < 10; i++ {
		b.TryConsume(1)
		assert.GreaterOrEqual(t, b.Tokens(), 0.0)
	}
	assert.InDelta(t, 0, b.Tokens(), 1e-9)

	clk.Advance(time.Hour)
	assert.InDelta(t, 3, b.Tokens(), 1e-9, "refill is capped at capacity")

	clk.Advance(250 * time.Millisecond)
	assert.True(t, b.TryConsume(1))
	assert.InDelta(t, 2, b.Tokens(), 1e-9)
}

func TestTokenBucket_EstimatedWait(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := NewTokenBucket(2, 1, clk)

	assert.Zero(t, b.EstimatedWait(1))
	assert.True(t, b.TryConsume(2))
	assert.Equal(t, time.Second, b.EstimatedWait(1))
	assert.Equal(t, 2*time.Second, b.EstimatedWait(2))

	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, b.EstimatedWait(1))

	clk.Advance(500 * time.Millisecond)
	assert.Zero(t, b.EstimatedWait(1))
}

func TestTokenBucket_SetRate(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := NewTokenBucket(10, 4, clk)
	assert.True(t, b.TryConsume(10))

	clk.Advance(time.Second)
	b.SetRate(1)
	assert.Equal(t, 1.0, b.Rate())
	assert.InDelta(t, 4, b.Tokens(), 1e-9, "tokens accrued at the old rate are kept")

	clk.Advance(time.Second)
	assert.InDelta(t, 5, b.Tokens(), 1e-9)

	b.SetRate(0)
	assert.Equal(t, minRate, b.Rate())
}

func TestNewTokenBucket_Clamps(t *testing.T) {
	b := NewTokenBucket(0, -3, clock.NewFake(epoch))
	assert.Equal(t, 1, b.Capacity())
	assert.Equal(t, minRate, b.Rate())
}
