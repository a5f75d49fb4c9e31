// Package resilient is the client-side resilience layer that sits in front of a
// remote HTTP API. For every outbound call it decides whether to send now, how
// to react to throttling and transient failures, and how to classify the result.
//
// It wraps any Transport (an *http.Client by default) and adds:
//   - Admission control through an adaptive token bucket (package ratelimit)
//     shared by every in-flight request of a Client
//   - Retry of connection errors and 5xx responses with capped exponential backoff
//   - Retry of 429 responses after the server's Retry-After hint, or an
//     exponential wait, while lowering the send rate on repeated throttling
//   - Immediate failure on authentication and validation errors
//   - One classified *Error per failed request (see ErrorKind), matchable with
//     errors.Is against ErrAuthentication, ErrRateLimited, ErrServer, ...
//   - Atomic stats, an Observer hook (package metrics), OpenTelemetry spans and slog logging
//
// Configuration uses the functional options pattern:
//
//	client := resilient.New(
//	    resilient.WithBaseURL("https://api.example.com"),
//	    resilient.WithAPIKey(os.Getenv("API_KEY")),
//	    resilient.WithRateLimit(30, 60),
//	    resilient.WithRetry(3, time.Second),
//	)
//	defer client.Close()
//
//	resp, err := client.Get(ctx, "/analyze/AAPL", nil)
//	if errors.Is(err, resilient.ErrRateLimited) {
//	    // give up for now
//	}
package resilient
