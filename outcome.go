package resilient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/egorkaBurkenya/resilient-api/ratelimit"
)

// outcomeKind tags the result of a single attempt.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeThrottled
	outcomeRetryable
	outcomeTerminal
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeThrottled:
		return "throttled"
	case outcomeRetryable:
		return "retryable"
	default:
		return "terminal"
	}
}

// outcome is what one attempt produced. resp is set for outcomeSuccess, err for
// every other kind. retryAfter carries the server hint of a throttled attempt.
type outcome struct {
	kind       outcomeKind
	resp       *Response
	err        *Error
	retryAfter time.Duration
	header     http.Header
}

// Response is a successful reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Payload is the decoded JSON body, nil when the body is empty.
	Payload   any
	RequestID string
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("resilient: unmarshal response: %w", err)
	}
	return nil
}

// classifyResponse turns a received response into an outcome. sentID is the
// request id the client attached, used when the server does not echo one.
func classifyResponse(status int, header http.Header, body []byte, sentID string, now time.Time) outcome {
	requestID := header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = sentID
	}

	if status >= 200 && status < 300 {
		resp := &Response{StatusCode: status, Header: header, Body: body, RequestID: requestID}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &resp.Payload); err != nil {
				return outcome{kind: outcomeTerminal, header: header, err: &Error{
					Kind:       KindGeneric,
					Message:    "failed to decode response body",
					StatusCode: status,
					RequestID:  requestID,
					Err:        err,
				}}
			}
		}
		return outcome{kind: outcomeSuccess, resp: resp, header: header}
	}

	e := &Error{
		Kind:       kindForStatus(status),
		StatusCode: status,
		RequestID:  requestID,
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err == nil {
		e.Response = data
	}
	e.Message = errorMessage(status, data, body)

	switch e.Kind {
	case KindRateLimited:
		e.RetryAfter = ratelimit.ParseRetryAfter(header.Get(ratelimit.HeaderRetryAfter), now)
		return outcome{kind: outcomeThrottled, err: e, retryAfter: e.RetryAfter, header: header}
	case KindServer:
		return outcome{kind: outcomeRetryable, err: e, header: header}
	}
	return outcome{kind: outcomeTerminal, err: e, header: header}
}

// classifyTransportError handles a failed send. Cancellation of ctx is final;
// anything else is a connection problem worth retrying.
func classifyTransportError(ctx context.Context, err error, sentID string) outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome{kind: outcomeTerminal, err: canceledError(ctxErr, sentID)}
	}
	return outcome{kind: outcomeRetryable, err: &Error{
		Kind:      KindConnection,
		Message:   "Connection error: " + err.Error(),
		RequestID: sentID,
		Err:       err,
	}}
}

func canceledError(err error, requestID string) *Error {
	return &Error{
		Kind:      KindCanceled,
		Message:   "request canceled: " + err.Error(),
		RequestID: requestID,
		Err:       err,
	}
}

// errorMessage prefers the body's "error" then "message" field, then the raw
// body, then a generic status line.
func errorMessage(status int, data map[string]any, body []byte) string {
	for _, key := range []string{"error", "message"} {
		switch v := data[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	if raw := bytes.TrimSpace(body); len(raw) > 0 {
		return string(raw)
	}
	return fmt.Sprintf("HTTP %d error", status)
}
