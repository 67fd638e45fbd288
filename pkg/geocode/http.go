package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-geocoder/internal/resilience"
)

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 4 << 20

// getJSON issues a GET and decodes a 200 response body into out. Failures are
// returned as *ProviderError; throttling and 5xx responses are also marked
// transient so the retry loop picks them up.
func getJSON(ctx context.Context, hc *http.Client, providerName, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &ProviderError{Provider: providerName, Err: eris.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return &ProviderError{Provider: providerName, Err: eris.Wrap(err, "request")}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "read body")}
	}

	if resp.StatusCode != http.StatusOK {
		var statusErr error = eris.Errorf("unexpected response: %s", truncate(string(body), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			te := resilience.NewTransientError(statusErr, resp.StatusCode)
			te.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			statusErr = te
		}
		return &ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Err: statusErr}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "parse response")}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
