package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionstackResolve(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.URL.Query().Get("access_key")
		_, _ = io.WriteString(w, `{"data": [
			{"latitude": 40.7484, "longitude": -73.9857, "label": "350 5th Ave, New York, NY, USA", "type": "address"}
		]}`)
	}))
	defer srv.Close()

	got, err := newTestClient(t, "positionstack", srv.URL).Resolve(context.Background(), "350 5th Ave, New York, US, 10118")
	require.NoError(t, err)

	assert.Equal(t, "/forward", gotPath)
	assert.Equal(t, "350 5th Ave, New York, US, 10118", gotQuery)
	assert.Equal(t, "test-key", gotKey)

	require.Len(t, got, 1)
	assert.InDelta(t, 40.7484, got[0].Lat, 0.0001)
	assert.InDelta(t, -73.9857, got[0].Lng, 0.0001)
	assert.Equal(t, "350 5th Ave, New York, NY, USA", got[0].FormattedAddress)
	assert.Equal(t, "address", got[0].LocationType)
}

func TestPositionstackResolve_NestedEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data": [[]]}`)
	}))
	defer srv.Close()

	got, err := newTestClient(t, "positionstack", srv.URL).Resolve(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPositionstackResolve_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"code": "rate_limit_reached", "message": "too many requests"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, "positionstack", srv.URL).Resolve(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Equal(t, int32(3), calls.Load(), "429 is retried up to the attempt limit")
}

func TestPositionstackResolve_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"data": [{"latitude": 1, "longitude": 2, "label": "x"}]}`)
	}))
	defer srv.Close()

	var waits []time.Duration
	retry := fastRetry(2)
	retry.MaxBackoff = 5 * time.Second
	retry.OnRetry = func(_ int, wait time.Duration, _ error) { waits = append(waits, wait) }

	got, err := newTestClient(t, "positionstack", srv.URL, WithRetry(retry)).Resolve(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []time.Duration{time.Second}, waits, "Retry-After raises the backoff")
}
