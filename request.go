package resilient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Header names the client sets or reads.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderRequestID = "X-Request-Id"

	DefaultUserAgent = "resilient-api-go/1.0.0"
)

// Transport sends one HTTP request. *http.Client satisfies it; the transport
// owns connection pooling and per-request timeouts.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one logical call.
type Request struct {
	Method string
	// Path is resolved against the client's base URL; an absolute URL is used as is.
	Path  string
	Query url.Values
	// Body is sent as JSON. []byte and json.RawMessage are sent verbatim and an
	// io.Reader is read once up front so it can be replayed on retries.
	Body any
	// Header overrides the client's default headers.
	Header http.Header
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// encodeBody returns the bytes sent on every attempt, nil for no body.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return data, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return data, nil
}

// resolveURL joins base and path, tolerating a trailing slash on base and a
// leading slash on path, and appends query.
func resolveURL(base, path string, query url.Values) (string, error) {
	target := path
	if u, err := url.Parse(path); err != nil || !u.IsAbs() {
		if base != "" {
			target = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// applyHeaders sets the default, content and per-request headers of one attempt.
func (c *Client) applyHeaders(req *http.Request, hasBody bool, override http.Header, requestID string) {
	for k, vs := range c.cfg.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range override {
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
}
