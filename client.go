package resilient

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/egorkaBurkenya/resilient-api/ratelimit"
)

const instrumentationName = "github.com/egorkaBurkenya/resilient-api"

// Client executes requests against a remote API with rate limiting, retry
// with exponential backoff, and adaptive throttling.
type Client struct {
	transport Transport
	limiter   *ratelimit.Limiter
	cfg       *config
	tracer    trace.Tracer
	stats     StatsRegistry

	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface check.
var _ StatsProvider = (*Client)(nil)

// New creates a new resilient Client with the given options.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = &http.Client{Timeout: cfg.timeout}
	}

	var lim *ratelimit.Limiter
	if cfg.rateLimiting {
		lopts := []ratelimit.Option{
			ratelimit.WithClock(cfg.clock),
			ratelimit.WithLogger(cfg.logger),
		}
		if cfg.window != nil {
			lopts = append(lopts, ratelimit.WithWindow(cfg.window))
		}
		lim = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.rps,
			BurstLimit:        cfg.burst,
			Adaptive:          cfg.adaptive,
		}, lopts...)
	}

	tp := cfg.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		transport: t,
		limiter:   lim,
		cfg:       cfg,
		tracer:    tp.Tracer(instrumentationName),
	}
}

// Close releases idle connections of the underlying *http.Client and a
// window passed with WithOwnedWindow. Windows passed with WithWindow stay open.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if hc, ok := c.transport.(*http.Client); ok {
			hc.CloseIdleConnections()
		}
		if !c.cfg.ownsWindow {
			return
		}
		if closer, ok := c.cfg.window.(io.Closer); ok {
			c.closeErr = closer.Close()
		}
	})
	return c.closeErr
}

// Stats returns a snapshot of request statistics, with the limiter's state
// when rate limiting is enabled.
func (c *Client) Stats() Stats {
	s := c.stats.Snapshot()
	if c.limiter != nil {
		ls := c.limiter.Snapshot(context.Background())
		s.RateLimit = &ls
	}
	return s
}

// Limiter returns the client's rate limiter, nil when rate limiting is disabled.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Execute performs a logical request: up to 1+MaxRetries attempts, each
// admitted by the rate limiter. It returns the decoded response or exactly one
// *Error describing why the request failed.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		req = &Request{}
	}
	start := c.cfg.clock.Now()

	ctx, span := c.tracer.Start(ctx, "resilient.Execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.method()),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	resp, err := c.execute(ctx, span, req)

	result := "success"
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			result = e.Kind.String()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.cfg.observer.RequestFinished(result, c.cfg.clock.Now().Sub(start))
	return resp, err
}

func (c *Client) execute(ctx context.Context, span trace.Span, req *Request) (*Response, error) {
	method := req.method()
	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := c.cfg.logger.With(
		slog.String("method", method),
		slog.String("path", req.Path),
		slog.String("request_id", requestID),
	)

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, c.fail(ctx, log, &Error{Kind: KindValidation, Message: err.Error(), RequestID: requestID, Err: err})
	}
	target, err := resolveURL(c.cfg.baseURL, req.Path, req.Query)
	if err != nil {
		return nil, c.fail(ctx, log, &Error{Kind: KindValidation, Message: err.Error(), RequestID: requestID, Err: err})
	}

	var last *Error
	for attempt := 0; attempt <= c.cfg.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, c.fail(ctx, log, canceledError(err, requestID))
			}
		}
		c.stats.attempt(attempt)

		began := c.cfg.clock.Now()
		out := c.attempt(ctx, method, target, body, req.Header, requestID)
		status := out.status()
		c.cfg.observer.AttemptFinished(out.kind.String(), status, c.cfg.clock.Now().Sub(began))
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("outcome", out.kind.String()),
			attribute.Int("http.response.status_code", status),
		))
		remaining := attempt < c.cfg.maxRetries

		switch out.kind {
		case outcomeSuccess:
			if c.limiter != nil {
				c.limiter.Recover()
				c.cfg.observer.RateChanged(c.limiter.CurrentRate())
			}
			c.stats.success()
			if c.cfg.onSuccess != nil {
				c.cfg.onSuccess(out.resp)
			}
			return out.resp, nil

		case outcomeThrottled:
			c.stats.throttled()
			wait := out.retryAfter
			if c.limiter != nil {
				wait = c.limiter.Penalize(out.retryAfter)
				c.cfg.observer.RateChanged(c.limiter.CurrentRate())
			} else if wait <= 0 {
				wait = c.backoff(attempt)
			}
			if c.cfg.onRateLimited != nil {
				c.cfg.onRateLimited(req, wait)
			}
			if !remaining {
				return nil, c.fail(ctx, log, out.err)
			}
			last = out.err
			if err := c.sleep(ctx, log, "rate_limited", attempt, wait); err != nil {
				return nil, c.fail(ctx, log, canceledError(err, requestID))
			}

		case outcomeRetryable:
			if !remaining {
				return nil, c.fail(ctx, log, out.err)
			}
			last = out.err
			reason := "server_error"
			if out.err.Kind == KindConnection {
				reason = "connection_error"
			}
			if err := c.sleep(ctx, log, reason, attempt, c.backoff(attempt)); err != nil {
				return nil, c.fail(ctx, log, canceledError(err, requestID))
			}

		default:
			return nil, c.fail(ctx, log, out.err)
		}
	}

	exhausted := &Error{
		Kind:      KindRetriesExhausted,
		Message:   ErrRetriesExhausted.Error(),
		RequestID: requestID,
	}
	if last != nil {
		exhausted.StatusCode = last.StatusCode
		exhausted.Err = last
	}
	return nil, c.fail(ctx, log, exhausted)
}

// attempt sends one request and classifies what came back.
func (c *Client) attempt(ctx context.Context, method, target string, body []byte, header http.Header, requestID string) outcome {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return outcome{kind: outcomeTerminal, err: &Error{
			Kind:      KindValidation,
			Message:   fmt.Sprintf("build request: %v", err),
			RequestID: requestID,
			Err:       err,
		}}
	}
	c.applyHeaders(hreq, body != nil, header, requestID)
	if c.cfg.requestHook != nil {
		c.cfg.requestHook(hreq)
	}

	resp, err := c.transport.Do(hreq)
	if err != nil {
		return classifyTransportError(ctx, err, requestID)
	}
	if c.cfg.responseHook != nil {
		c.cfg.responseHook(resp)
	}

	var data []byte
	if resp.Body != nil {
		// One byte past the limit tells an oversized body from one that fits exactly.
		limit := c.cfg.maxResponseSize
		if limit < math.MaxInt64 {
			limit++
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, limit))
		resp.Body.Close()
		if err != nil {
			return classifyTransportError(ctx, fmt.Errorf("read response: %w", err), requestID)
		}
	}

	if c.limiter != nil {
		c.limiter.Observe(resp.Header)
	}
	if int64(len(data)) > c.cfg.maxResponseSize {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return outcome{kind: outcomeTerminal, header: resp.Header, err: &Error{
				Kind:       KindGeneric,
				Message:    fmt.Sprintf("response body exceeds size limit of %d bytes", c.cfg.maxResponseSize),
				StatusCode: resp.StatusCode,
				RequestID:  cmp.Or(resp.Header.Get(HeaderRequestID), requestID),
			}}
		}
		// Error bodies only feed the message, so the status still decides.
		data = data[:c.cfg.maxResponseSize]
	}
	return classifyResponse(resp.StatusCode, resp.Header, data, requestID, c.cfg.clock.Now())
}

func (o outcome) status() int {
	switch {
	case o.resp != nil:
		return o.resp.StatusCode
	case o.err != nil:
		return o.err.StatusCode
	}
	return 0
}

// fail records a failed logical request and returns err as an error.
func (c *Client) fail(ctx context.Context, log *slog.Logger, err *Error) error {
	c.stats.failure()
	log.WarnContext(ctx, "request failed",
		slog.String("kind", err.Kind.String()),
		slog.Int("status", err.StatusCode),
		slog.String("error", err.Error()),
	)
	if c.cfg.onError != nil {
		c.cfg.onError(err)
	}
	return err
}

func (c *Client) sleep(ctx context.Context, log *slog.Logger, reason string, attempt int, wait time.Duration) error {
	c.cfg.observer.BackoffScheduled(reason, wait)
	log.DebugContext(ctx, "retrying after backoff",
		slog.String("reason", reason),
		slog.Int("attempt", attempt),
		slog.Duration("wait", wait),
	)
	return c.cfg.clock.Sleep(ctx, wait)
}

// backoff returns initialBackoff*2^attempt capped at maxBackoff, with optional jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.cfg.initialBackoff) * math.Pow(2, float64(attempt))
	if limit := float64(c.cfg.maxBackoff); d > limit {
		d = limit
	}
	if c.cfg.jitter > 0 {
		d += d * c.cfg.jitter * (rand.Float64()*2 - 1) //nolint:gosec
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// BackoffDuration is exported for testing.
func (c *Client) BackoffDuration(attempt int) time.Duration {
	return c.backoff(attempt)
}

// Get performs a GET request to path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request to path with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// DoJSON sends reqBody as JSON and unmarshals the response into respBody.
// It returns the status code of the final response, 0 when none was received.
func (c *Client) DoJSON(ctx context.Context, method, path string, reqBody, respBody any) (int, error) {
	resp, err := c.Execute(ctx, &Request{Method: method, Path: path, Body: reqBody})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e.StatusCode, err
		}
		return 0, err
	}
	if respBody != nil {
		if err := resp.Decode(respBody); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
