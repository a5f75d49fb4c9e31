package resilient

import "time"

// Observer receives notifications from the retry loop. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	// AttemptFinished reports one attempt. outcome is success, throttled,
	// retryable or terminal; status is 0 when no response was received.
	AttemptFinished(outcome string, status int, elapsed time.Duration)
	// BackoffScheduled reports a sleep before the next attempt.
	BackoffScheduled(reason string, wait time.Duration)
	// RequestFinished reports a logical request; result is "success" or an ErrorKind name.
	RequestFinished(result string, elapsed time.Duration)
	// RateChanged reports the limiter's refill rate after a penalty or recovery.
	RateChanged(rate float64)
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(string, int, time.Duration) {}
func (nopObserver) BackoffScheduled(string, time.Duration)     {}
func (nopObserver) RequestFinished(string, time.Duration)      {}
func (nopObserver) RateChanged(float64)                        {}
