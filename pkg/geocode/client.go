// Package geocode resolves free-text addresses to coordinate candidates using
// Google, Mapbox or Positionstack.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/venue-geocoder/internal/model"
	"github.com/sells-group/venue-geocoder/internal/resilience"
)

// Client resolves an address to zero or more candidates.
type Client interface {
	// Resolve geocodes a single free-text address. An empty, non-nil slice
	// means the provider found no match. Any failure is a *ProviderError.
	Resolve(ctx context.Context, address string) ([]model.Candidate, error)
}

// Recorder receives one observation per Resolve call. Outcome is one of
// "success", "empty" or "error".
type Recorder interface {
	ObserveGeocode(provider, outcome string, elapsed time.Duration)
}

// ProviderError is returned for every failed lookup: transport errors,
// non-200 responses, provider error statuses and undecodable bodies.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("geocode: %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("geocode: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// provider performs a single lookup against one geocoding API.
type provider interface {
	name() string
	lookup(ctx context.Context, hc *http.Client, address string) ([]model.Candidate, error)
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(baseURL string) Option {
	return func(g *geocoder) {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit sets the maximum requests per second sent to the provider.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for transient provider failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *geocoder) {
		g.retry = cfg
	}
}

// WithCircuitBreaker sets the breaker configuration guarding the provider.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *geocoder) {
		g.breakerCfg = cfg
	}
}

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(logger *zap.Logger) Option {
	return func(g *geocoder) {
		g.logger = logger
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *geocoder) {
		g.recorder = r
	}
}

type geocoder struct {
	provider   provider
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	logger     *zap.Logger
	recorder   Recorder
}

// NewClient creates a Client for the named provider ("google", "mapbox" or
// "positionstack").
func NewClient(providerName, apiKey string, opts ...Option) (Client, error) {
	if apiKey == "" {
		return nil, eris.Errorf("geocode: %s api key not configured", providerName)
	}

	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
		breakerCfg: resilience.DefaultCircuitBreakerConfig(),
		logger:     zap.L(),
	}
	for _, opt := range opts {
		opt(g)
	}

	switch providerName {
	case "google":
		g.provider = &googleProvider{key: apiKey, baseURL: orDefault(g.baseURL, googleGeocodeURL)}
	case "mapbox":
		g.provider = &mapboxProvider{token: apiKey, baseURL: orDefault(g.baseURL, mapboxGeocodeURL)}
	case "positionstack":
		g.provider = &positionstackProvider{key: apiKey, baseURL: orDefault(g.baseURL, positionstackURL)}
	default:
		return nil, eris.Errorf("geocode: unknown provider %q", providerName)
	}

	// A cancelled run is not the provider's fault.
	g.breakerCfg.ShouldTrip = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	g.breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		g.logger.Warn("geocode circuit breaker state change",
			zap.String("provider", g.provider.name()),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	g.breaker = resilience.NewCircuitBreaker(g.breakerCfg)
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.RetryLogger(g.logger, g.provider.name())
	}

	return g, nil
}

// Resolve implements Client.
func (g *geocoder) Resolve(ctx context.Context, address string) ([]model.Candidate, error) {
	name := g.provider.name()
	start := time.Now()

	candidates, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]model.Candidate, error) {
		return resilience.DoVal(ctx, g.retry, func(ctx context.Context) ([]model.Candidate, error) {
			if err := g.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, eris.Wrap(err, "geocode: rate limit wait")
			}
			res, err := g.provider.lookup(ctx, g.httpClient, address)
			if err != nil && ctx.Err() != nil {
				// Report the cancellation itself, not the aborted request.
				return nil, ctx.Err()
			}
			return res, err
		})
	})

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case len(candidates) == 0:
		outcome = "empty"
	}
	if g.recorder != nil {
		g.recorder.ObserveGeocode(name, outcome, time.Since(start))
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		st := g.breaker.Stats()
		g.logger.Debug("geocode request short-circuited",
			zap.String("provider", name),
			zap.Int("rejected", st.Rejected),
			zap.Int("trips", st.Trips),
		)
	}

	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProviderError{Provider: name, Err: err}
	}

	g.logger.Debug("geocode resolved",
		zap.String("provider", name),
		zap.String("address", address),
		zap.Int("candidates", len(candidates)),
	)

	if candidates == nil {
		candidates = []model.Candidate{}
	}
	return candidates, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
