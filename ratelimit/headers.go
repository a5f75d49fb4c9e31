package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names read from API responses.
const (
	HeaderRemaining  = "X-Ratelimit-Remaining"
	HeaderReset      = "X-Ratelimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Info is the limiter's view of the limits the server advertises, next to the
// configured baseline.
type Info struct {
	RequestsPerSecond float64
	BurstLimit        int

	// Set from the most recent response that carried the header.
	RemainingRequests *int
	ResetTime         *time.Time
	// RetryAfter is zero when no response has advertised one.
	RetryAfter time.Duration
}

// maxSeconds is the largest whole-second count a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// Headers holds the rate-limit signals found on a single response. Nil or zero
// fields were absent or malformed.
type Headers struct {
	Remaining  *int
	Reset      *time.Time
	RetryAfter time.Duration
}

// ParseHeaders extracts rate-limit signals from h. Malformed values are skipped.
func ParseHeaders(h http.Header, now time.Time) Headers {
	var out Headers
	if v := strings.TrimSpace(h.Get(HeaderRemaining)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.Remaining = &n
		}
	}
	if v := strings.TrimSpace(h.Get(HeaderReset)); v != "" {
		// Epochs outside the Duration range cannot be compared with now.
		if secs, err := strconv.ParseFloat(v, 64); err == nil && math.Abs(secs) <= maxSeconds {
			whole, frac := math.Modf(secs)
			t := time.Unix(int64(whole), int64(frac*float64(time.Second)))
			out.Reset = &t
		}
	}
	out.RetryAfter = ParseRetryAfter(h.Get(HeaderRetryAfter), now)
	return out
}

// ParseRetryAfter parses a Retry-After value given either as seconds or as an
// HTTP-date. Fractional seconds round up. It returns 0 if unparseable, out of
// range or past.
func ParseRetryAfter(val string, now time.Time) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		// Values too large for a Duration are treated as malformed.
		if secs <= 0 || math.IsNaN(secs) || secs > maxSeconds {
			return 0
		}
		return time.Duration(math.Ceil(secs)) * time.Second
	}

	for _, layout := range []string{
		http.TimeFormat,
		time.RFC1123,
		time.RFC850,
		time.ANSIC,
	} {
		if t, err := time.Parse(layout, val); err == nil {
			d := t.Sub(now)
			if d < 0 {
				return 0
			}
			return d
		}
	}
	return 0
}
