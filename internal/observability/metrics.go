// Package observability holds the Prometheus metrics recorded during a
// migration run.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

const namespace = "venue_geocoder"

// Metrics holds the counters and histograms for one geocoder process.
type Metrics struct {
	registry *prometheus.Registry

	// RecordsProcessed counts terminal record states.
	RecordsProcessed *prometheus.CounterVec // labels: outcome={skipped,done,unmatched,incomplete_address,provider_error,write_error}

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec   // labels: provider, outcome={success,empty,error}
	GeocodeDuration *prometheus.HistogramVec // labels: provider

	RunDuration prometheus.Gauge
}

// NewMetrics creates the geocoder metrics and registers them with a fresh
// registry, so tests and repeated runs never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Venue records by terminal outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding lookups by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GeocodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_duration_seconds",
			Help:      "Geocoding lookup duration including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last migration run.",
		}),
	}

	m.registry.MustRegister(
		m.RecordsProcessed,
		m.GeocodeRequests,
		m.GeocodeDuration,
		m.RunDuration,
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveGeocode records one lookup. It satisfies geocode.Recorder.
func (m *Metrics) ObserveGeocode(provider, outcome string, elapsed time.Duration) {
	m.GeocodeRequests.WithLabelValues(provider, outcome).Inc()
	m.GeocodeDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveRecords counts n records reaching a terminal outcome.
func (m *Metrics) ObserveRecords(outcome string, n int) {
	m.RecordsProcessed.WithLabelValues(outcome).Add(float64(n))
}

// Push sends every registered metric to a Prometheus Pushgateway under job.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).Push(); err != nil {
		return eris.Wrapf(err, "observability: push metrics to %s", url)
	}
	return nil
}
