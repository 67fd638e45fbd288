package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/venue-geocoder/internal/config"
)

func TestOpenStore_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")

	st, err := openStore(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: dsn,
		Collection:  "venue",
	})
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	assert.NoError(t, st.InitSchema(context.Background()))
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{Driver: "cassandra"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported driver "cassandra"`)
}

func TestOpenStore_PostgresBadURL(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{
		Driver:      "postgres",
		DatabaseURL: "://not a url",
		Collection:  "venue",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: parse config")
}

func TestNewGeocoder(t *testing.T) {
	c := config.GeocodeConfig{
		Provider:    "mapbox",
		APIKey:      "pk.test",
		RateLimit:   5,
		TimeoutSecs: 10,
		Retry:       config.RetryConfig{MaxAttempts: 2, InitialBackoffMs: 10, MaxBackoffMs: 20},
		Circuit:     config.CircuitConfig{FailureThreshold: 3, ResetTimeoutSecs: 5},
	}

	gc, err := newGeocoder(c, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.NotNil(t, gc)

	c.APIKey = ""
	_, err = newGeocoder(c, zap.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key not configured")
}
