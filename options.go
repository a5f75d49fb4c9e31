package resilient

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/egorkaBurkenya/resilient-api/clock"
	"github.com/egorkaBurkenya/resilient-api/ratelimit"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	baseURL         string
	headers         http.Header
	maxRetries      int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	jitter          float64
	maxResponseSize int64
	timeout         time.Duration
	transport       Transport

	rateLimiting bool
	rps          float64
	burst        int
	adaptive     bool
	window       ratelimit.Window
	ownsWindow   bool

	clock          clock.Clock
	logger         *slog.Logger
	observer       Observer
	tracerProvider trace.TracerProvider

	onError       func(err *Error)
	onSuccess     func(resp *Response)
	onRateLimited func(req *Request, wait time.Duration)

	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)
}

func defaultConfig() *config {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("User-Agent", DefaultUserAgent)
	return &config{
		headers:         h,
		maxRetries:      3,
		initialBackoff:  time.Second,
		maxBackoff:      60 * time.Second,
		maxResponseSize: 10 * 1024 * 1024, // 10 MB
		timeout:         30 * time.Second,
		rateLimiting:    true,
		rps:             30,
		burst:           60,
		adaptive:        true,
		clock:           clock.Real{},
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:        nopObserver{},
	}
}

// WithBaseURL sets the URL that request paths are resolved against.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithAPIKey sends key in the x-api-key header on every request.
func WithAPIKey(key string) Option {
	return WithHeader(HeaderAPIKey, key)
}

// WithHeader adds a header sent on every request. Per-request headers override it.
func WithHeader(key, value string) Option {
	return func(c *config) { c.headers.Set(key, value) }
}

// WithUserAgent replaces the default User-Agent.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// WithRateLimit enables client-side rate limiting with a token bucket refilled
// at rps tokens per second holding at most burst tokens.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rateLimiting = true
		if rps > 0 {
			c.rps = rps
		}
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithoutRateLimit sends every attempt immediately. A 429 is still retried,
// after the server's Retry-After hint or the regular backoff when it sends
// none, and counted as rate limited; it is not failed on the first response.
func WithoutRateLimit() Option {
	return func(c *config) { c.rateLimiting = false }
}

// WithAdaptive toggles adaptive behaviour: tracking rate-limit headers and
// lowering the send rate on repeated throttling.
func WithAdaptive(enabled bool) Option {
	return func(c *config) { c.adaptive = enabled }
}

// WithWindow stores the recent-request window somewhere other than memory,
// e.g. a ratelimit.RedisWindow shared by several processes. The caller keeps
// ownership of w, so it may be shared by several clients and must be closed
// by the caller once they are done.
func WithWindow(w ratelimit.Window) Option {
	return func(c *config) {
		c.window = w
		c.ownsWindow = false
	}
}

// WithOwnedWindow is WithWindow with ownership handed to the client:
// Client.Close closes w when it implements io.Closer.
func WithOwnedWindow(w ratelimit.Window) Option {
	return func(c *config) {
		c.window = w
		c.ownsWindow = true
	}
}

// WithRetry sets the maximum number of retries and the initial backoff for
// server and connection errors. Backoff doubles on each attempt up to the cap
// set by WithMaxBackoff.
func WithRetry(maxRetries int, initialBackoff time.Duration) Option {
	return func(c *config) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if initialBackoff > 0 {
			c.initialBackoff = initialBackoff
		}
	}
}

// WithMaxBackoff caps the backoff between attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// WithJitter randomizes each backoff by ±fraction. Zero disables jitter.
func WithJitter(fraction float64) Option {
	return func(c *config) {
		if fraction >= 0 && fraction < 1 {
			c.jitter = fraction
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes. A larger
// successful body fails the request with an ErrGeneric error and is not
// retried; larger error bodies are truncated.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxResponseSize = n
		}
	}
}

// WithHTTPClient sets a custom underlying *http.Client.
// The timeout option is ignored when a custom client is provided.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		if hc != nil {
			c.transport = hc
		}
	}
}

// WithTransport sends requests through t instead of an *http.Client.
func WithTransport(t Transport) Option {
	return func(c *config) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithClock sets the time source for rate limiting and backoff sleeps.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers an Observer, e.g. metrics.Metrics.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTracerProvider sets the OpenTelemetry provider. The global one is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithOnError sets a callback invoked once per failed logical request.
func WithOnError(fn func(err *Error)) Option {
	return func(c *config) { c.onError = fn }
}

// WithOnSuccess sets a callback invoked on successful (2xx) responses.
func WithOnSuccess(fn func(resp *Response)) Option {
	return func(c *config) { c.onSuccess = fn }
}

// WithOnRateLimited sets a callback invoked on every throttled attempt with
// the wait chosen before the next one.
func WithOnRateLimited(fn func(req *Request, wait time.Duration)) Option {
	return func(c *config) { c.onRateLimited = fn }
}

// WithRequestHook sets a hook called before each attempt is sent.
func WithRequestHook(fn func(req *http.Request)) Option {
	return func(c *config) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received.
func WithResponseHook(fn func(resp *http.Response)) Option {
	return func(c *config) { c.responseHook = fn }
}
