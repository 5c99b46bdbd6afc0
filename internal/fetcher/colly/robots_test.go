package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/metrics"
)

// scriptedTransport replays one outcome per call, repeating the last.
type scriptedTransport struct {
	steps []func() (*http.Response, error)
	calls int
}

func (s *scriptedTransport) RoundTrip(*http.Request) (*http.Response, error) {
	i := min(s.calls, len(s.steps)-1)
	s.calls++
	return s.steps[i]()
}

func timedOut() (*http.Response, error) { return nil, context.DeadlineExceeded }

func respond(code int) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		rec := httptest.NewRecorder()
		rec.WriteHeader(code)
		_, _ = rec.WriteString("User-agent: *\nDisallow: /wp-admin/")
		return rec.Result(), nil
	}
}

func TestRobotsTransport(t *testing.T) {
	t.Parallel()
	metrics.Init()

	tests := []struct {
		name      string
		path      string
		steps     []func() (*http.Response, error)
		wantCalls int
		wantBody  string
		fallback  bool
		wantErr   bool
	}{
		{
			name:      "timeouts exhaust retries",
			path:      "/robots.txt",
			steps:     []func() (*http.Response, error){timedOut},
			wantCalls: 3,
			wantBody:  allowAllRobots,
			fallback:  true,
		},
		{
			name:      "recovers after a timeout",
			path:      "/robots.txt",
			steps:     []func() (*http.Response, error){timedOut, respond(http.StatusOK)},
			wantCalls: 2,
			wantBody:  "User-agent: *\nDisallow: /wp-admin/",
		},
		{
			name:      "challenge page becomes allow all",
			path:      "/robots.txt",
			steps:     []func() (*http.Response, error){respond(http.StatusServiceUnavailable)},
			wantCalls: 1,
			wantBody:  allowAllRobots,
			fallback:  true,
		},
		{
			name:      "missing robots passes through",
			path:      "/robots.txt",
			steps:     []func() (*http.Response, error){respond(http.StatusNotFound)},
			wantCalls: 1,
			wantBody:  "User-agent: *\nDisallow: /wp-admin/",
		},
		{
			name: "hard failure is returned",
			path: "/robots.txt",
			steps: []func() (*http.Response, error){func() (*http.Response, error) {
				return nil, errors.New("connection refused")
			}},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "pages are not retried",
			path:      "/manga/alpha/",
			steps:     []func() (*http.Response, error){respond(http.StatusServiceUnavailable)},
			wantCalls: 1,
			wantBody:  "User-agent: *\nDisallow: /wp-admin/",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			base := &scriptedTransport{steps: tc.steps}
			transport := &robotsTransport{base: base, backoff: []time.Duration{time.Millisecond, time.Millisecond}}

			req := httptest.NewRequest(http.MethodGet, "https://madara.example"+tc.path, nil)
			resp, err := transport.RoundTrip(req)
			assert.Equal(t, tc.wantCalls, base.calls)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.wantBody, string(body))
			if tc.fallback {
				assert.EqualValues(t, 1, transport.fallbacks.Load())
			} else {
				assert.Zero(t, transport.fallbacks.Load())
			}
		})
	}
}

func TestRobotsTransportStopsOnCancel(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{steps: []func() (*http.Response, error){timedOut}}
	transport := &robotsTransport{base: base, backoff: []time.Duration{time.Hour}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "https://madara.example/robots.txt", nil).WithContext(ctx)
	_, err := transport.RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, base.calls)
}
