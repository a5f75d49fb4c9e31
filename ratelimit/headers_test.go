package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	tests := []struct {
		val      string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{" 5 ", 5 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"1.5", 2 * time.Second},
		{"", 0},
		{"garbage", 0},
		{"NaN", 0},
		{"+Inf", 0},
		{"9223372036", 9223372036 * time.Second},
		{"9223372037", 0},
		{"10000000000", 0},
		{"18446744074", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		got := ParseRetryAfter(tt.val, now)
		assert.Equal(t, tt.expected, got, "ParseRetryAfter(%q)", tt.val)
	}
}

func TestParseHeaders(t *testing.T) {
	now := time.Unix(1719137700, 0)

	h := http.Header{}
	h.Set("x-ratelimit-remaining", "12")
	h.Set("x-ratelimit-reset", "1719137730")
	h.Set("retry-after", "4")

	got := ParseHeaders(h, now)
	require.NotNil(t, got.Remaining)
	assert.Equal(t, 12, *got.Remaining)
	require.NotNil(t, got.Reset)
	assert.Equal(t, time.Unix(1719137730, 0), *got.Reset)
	assert.Equal(t, 4*time.Second, got.RetryAfter)

	empty := ParseHeaders(http.Header{}, now)
	assert.Nil(t, empty.Remaining)
	assert.Nil(t, empty.Reset)
	assert.Zero(t, empty.RetryAfter)

	bad := http.Header{}
	bad.Set("x-ratelimit-remaining", "1.5")
	bad.Set("x-ratelimit-reset", "+Inf")
	malformed := ParseHeaders(bad, now)
	assert.Nil(t, malformed.Remaining)
	assert.Nil(t, malformed.Reset)

	for _, v := range []string{"1e300", "-1e300", "9223372037"} {
		huge := http.Header{}
		huge.Set("x-ratelimit-reset", v)
		assert.Nil(t, ParseHeaders(huge, now).Reset, "reset %q", v)
	}
}
