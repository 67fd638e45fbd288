package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-geocoder/internal/config"
	"github.com/sells-group/venue-geocoder/internal/resilience"
	"github.com/sells-group/venue-geocoder/internal/store"
	"github.com/sells-group/venue-geocoder/pkg/geocode"
)

// openStore connects to the configured venue store.
func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Driver {
	case "mongo":
		st, err = store.NewMongo(ctx, c.DatabaseURL, c.Database, c.Collection)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.DatabaseURL, c.Collection, c.MaxConns)
	case "sqlite":
		st, err = store.NewSQLite(c.DatabaseURL, c.Collection)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", c.Driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// newGeocoder builds the geocoding client from config.
func newGeocoder(c config.GeocodeConfig, logger *zap.Logger, rec geocode.Recorder) (geocode.Client, error) {
	opts := []geocode.Option{
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(c.TimeoutSecs) * time.Second}),
		geocode.WithRateLimit(c.RateLimit),
		geocode.WithRetry(resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)),
		geocode.WithCircuitBreaker(resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)),
		geocode.WithLogger(logger),
	}
	if c.BaseURL != "" {
		opts = append(opts, geocode.WithBaseURL(c.BaseURL))
	}
	if rec != nil {
		opts = append(opts, geocode.WithRecorder(rec))
	}
	return geocode.NewClient(c.Provider, c.APIKey, opts...)
}
