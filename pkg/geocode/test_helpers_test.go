package geocode

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/venue-geocoder/internal/resilience"
)

// fastRetry retries quickly so transient-failure tests don't sleep.
func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

// newTestClient builds a geocoder pointed at a test server.
func newTestClient(t *testing.T, providerName, baseURL string, opts ...Option) *geocoder {
	t.Helper()
	base := []Option{
		WithBaseURL(baseURL),
		WithRateLimit(1000),
		WithRetry(fastRetry(3)),
		WithLogger(zap.NewNop()),
	}
	c, err := NewClient(providerName, "test-key", append(base, opts...)...)
	require.NoError(t, err)
	return c.(*geocoder)
}

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if !strings.HasPrefix(origURL, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + origURL[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	newReq := req.Clone(req.Context())
	newReq.URL = parsed
	newReq.Host = parsed.Host
	return t.base.RoundTrip(newReq)
}

// recorderFunc adapts a function to Recorder.
type recorderFunc func(provider, outcome string, elapsed time.Duration)

func (f recorderFunc) ObserveGeocode(provider, outcome string, elapsed time.Duration) {
	f(provider, outcome, elapsed)
}
