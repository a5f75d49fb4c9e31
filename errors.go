package resilient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies a failed logical request.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindAuthentication
	KindValidation
	KindNotFound
	KindQuotaExceeded
	KindRateLimited
	KindServer
	KindConnection
	KindRetriesExhausted
	KindCanceled
)

var kindNames = map[ErrorKind]string{
	KindGeneric:          "generic",
	KindAuthentication:   "authentication",
	KindValidation:       "validation",
	KindNotFound:         "not_found",
	KindQuotaExceeded:    "quota_exceeded",
	KindRateLimited:      "rate_limited",
	KindServer:           "server",
	KindConnection:       "connection",
	KindRetriesExhausted: "retries_exhausted",
	KindCanceled:         "canceled",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrGeneric          = errors.New("api error")
	ErrAuthentication   = errors.New("invalid or missing api key")
	ErrValidation       = errors.New("request validation failed")
	ErrNotFound         = errors.New("resource not found")
	ErrQuotaExceeded    = errors.New("api quota exceeded")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrServer           = errors.New("internal server error")
	ErrConnection       = errors.New("failed to connect to api")
	ErrRetriesExhausted = errors.New("all retry attempts failed")
	ErrCanceled         = errors.New("request canceled")
)

var kindSentinels = map[ErrorKind]error{
	KindGeneric:          ErrGeneric,
	KindAuthentication:   ErrAuthentication,
	KindValidation:       ErrValidation,
	KindNotFound:         ErrNotFound,
	KindQuotaExceeded:    ErrQuotaExceeded,
	KindRateLimited:      ErrRateLimited,
	KindServer:           ErrServer,
	KindConnection:       ErrConnection,
	KindRetriesExhausted: ErrRetriesExhausted,
	KindCanceled:         ErrCanceled,
}

// Error is the single failure returned for a logical request.
type Error struct {
	Kind    ErrorKind
	Message string
	// StatusCode is zero when no response was received.
	StatusCode int
	RequestID  string
	// RetryAfter is the server's hint on a rate-limited response; zero when unknown.
	RetryAfter time.Duration
	// Response is the decoded JSON error body, if it was an object.
	Response map[string]any
	// Err is the underlying cause: a transport error, a context error, or the
	// last attempt's *Error for KindRetriesExhausted.
	Err error
}

func (e *Error) Error() string {
	parts := []string{e.Message}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("Status: %d", e.StatusCode))
	}
	if e.RequestID != "" {
		parts = append(parts, "Request ID: "+e.RequestID)
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Retryable reports whether the kind is retried by the client.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnection, KindServer, KindRateLimited:
		return true
	}
	return false
}

// kindForStatus maps an HTTP status to the taxonomy.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusPaymentRequired:
		return KindQuotaExceeded
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500 && status <= 599:
		return KindServer
	}
	return KindGeneric
}
