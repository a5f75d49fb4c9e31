package resilient_test

//go:generate mockgen -source=request.go -destination=mocks/transport_mock.go -package=mocks Transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	resilient "github.com/egorkaBurkenya/resilient-api"
	"github.com/egorkaBurkenya/resilient-api/clock"
	"github.com/egorkaBurkenya/resilient-api/mocks"
)

type TransportSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	transport *mocks.MockTransport
	clock     *clock.Fake
	logs      *bytes.Buffer
	client    *resilient.Client
}

func (s *TransportSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.transport = mocks.NewMockTransport(s.ctrl)
	s.clock = clock.NewFake(time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC))
	s.logs = &bytes.Buffer{}
	s.client = resilient.New(
		resilient.WithBaseURL("https://api.example.com"),
		resilient.WithAPIKey("test-key"),
		resilient.WithTransport(s.transport),
		resilient.WithClock(s.clock),
		resilient.WithRetry(2, time.Second),
		resilient.WithLogger(slog.New(slog.NewTextHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)
}

func (s *TransportSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func reply(status int, body string, header ...string) *http.Response {
	h := http.Header{}
	for i := 0; i+1 < len(header); i += 2 {
		h.Set(header[i], header[i+1])
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func (s *TransportSuite) TestSuccessSendsDefaultHeaders() {
	s.transport.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(s.T(), "https://api.example.com/analyze/AAPL", req.URL.String())
		assert.Equal(s.T(), "test-key", req.Header.Get(resilient.HeaderAPIKey))
		assert.Equal(s.T(), resilient.DefaultUserAgent, req.Header.Get("User-Agent"))
		assert.NotEmpty(s.T(), req.Header.Get(resilient.HeaderRequestID))
		return reply(200, `{"success":true}`), nil
	}).Times(1)

	resp, err := s.client.Get(context.Background(), "/analyze/AAPL", nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), map[string]any{"success": true}, resp.Payload)
	assert.Equal(s.T(), uint64(1), s.client.Stats().SuccessfulRequests)
}

func (s *TransportSuite) TestAuthenticationFailsOnFirstAttempt() {
	s.transport.EXPECT().Do(gomock.Any()).
		Return(reply(401, `{"error":"Invalid API key"}`, "X-Request-Id", "req-401"), nil).
		Times(1)

	_, err := s.client.Get(context.Background(), "/analyze/AAPL", nil)
	require.Error(s.T(), err)
	assert.ErrorIs(s.T(), err, resilient.ErrAuthentication)
	assert.EqualError(s.T(), err, "Invalid API key | Status: 401 | Request ID: req-401")
	assert.Empty(s.T(), s.clock.Sleeps())
	assert.Contains(s.T(), s.logs.String(), "request failed")
}

func (s *TransportSuite) TestServerErrorUsesEveryAttempt() {
	s.transport.EXPECT().Do(gomock.Any()).Return(reply(500, ``), nil).Times(3)

	_, err := s.client.Get(context.Background(), "/analyze/AAPL", nil)
	assert.ErrorIs(s.T(), err, resilient.ErrServer)
	assert.Equal(s.T(), []time.Duration{time.Second, 2 * time.Second}, s.clock.Sleeps())

	stats := s.client.Stats()
	assert.Equal(s.T(), uint64(3), stats.TotalRequests)
	assert.Equal(s.T(), uint64(2), stats.RetriedRequests)
	assert.Equal(s.T(), uint64(1), stats.FailedRequests)
}

func (s *TransportSuite) TestThrottledThenSuccess() {
	gomock.InOrder(
		s.transport.EXPECT().Do(gomock.Any()).Return(reply(429, ``, "Retry-After", "5", "X-RateLimit-Remaining", "0"), nil),
		s.transport.EXPECT().Do(gomock.Any()).Return(reply(200, `{}`, "X-RateLimit-Remaining", "99"), nil),
	)

	_, err := s.client.Get(context.Background(), "/analyze/AAPL", nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []time.Duration{5 * time.Second}, s.clock.Sleeps())

	stats := s.client.Stats()
	assert.Equal(s.T(), uint64(1), stats.RateLimitedRequests)
	require.NotNil(s.T(), stats.RateLimit)
	require.NotNil(s.T(), stats.RateLimit.RemainingRequests)
	assert.Equal(s.T(), 99, *stats.RateLimit.RemainingRequests)
	assert.Zero(s.T(), stats.RateLimit.ConsecutiveRateLimits)
}

func (s *TransportSuite) TestConnectionErrorThenSuccess() {
	refused := errors.New("dial tcp 127.0.0.1:443: connect: connection refused")
	gomock.InOrder(
		s.transport.EXPECT().Do(gomock.Any()).Return(nil, refused).Times(2),
		s.transport.EXPECT().Do(gomock.Any()).Return(reply(200, `{"ok":1}`), nil),
	)

	resp, err := s.client.Get(context.Background(), "/health", nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 200, resp.StatusCode)
	assert.Equal(s.T(), []time.Duration{time.Second, 2 * time.Second}, s.clock.Sleeps())
}

func (s *TransportSuite) TestConnectionErrorExhausted() {
	refused := errors.New("connection refused")
	s.transport.EXPECT().Do(gomock.Any()).Return(nil, refused).Times(3)

	_, err := s.client.Get(context.Background(), "/health", nil)
	assert.ErrorIs(s.T(), err, resilient.ErrConnection)

	var e *resilient.Error
	require.ErrorAs(s.T(), err, &e)
	assert.Zero(s.T(), e.StatusCode)
	assert.Equal(s.T(), "Connection error: connection refused", e.Message)
}

func (s *TransportSuite) TestBodyReplayedOnRetry() {
	var bodies []string
	s.transport.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			return reply(503, ``), nil
		}
		return reply(201, `{"id":7}`), nil
	}).Times(2)

	resp, err := s.client.Post(context.Background(), "/ai/analyze", strings.NewReader(`{"symbol":"AAPL"}`))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 201, resp.StatusCode)
	assert.Equal(s.T(), []string{`{"symbol":"AAPL"}`, `{"symbol":"AAPL"}`}, bodies)
}
