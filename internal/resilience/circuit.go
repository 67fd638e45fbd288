// Package resilience provides retry and circuit breaker helpers for calls to
// the geocoding provider.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
)

// CircuitState is the position of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen admits a single probe call.
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if int(s) < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// ErrCircuitOpen is returned for calls rejected without reaching the provider.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive tripping failures open the circuit.
	FailureThreshold int

	// ResetTimeout is the cool-down before a probe is admitted.
	ResetTimeout time.Duration

	// ShouldTrip reports whether err counts against the provider. Nil counts
	// every error.
	ShouldTrip func(err error) bool

	// OnStateChange runs under the breaker lock and must not call back into it.
	OnStateChange func(from, to CircuitState)

	Clock clockwork.Clock
}

// DefaultCircuitBreakerConfig returns the breaker used when nothing is configured.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// FromCircuitConfig builds a breaker config from the geocode.circuit
// settings. Zero values keep the defaults.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// BreakerStats is a point-in-time view of a breaker.
type BreakerStats struct {
	State               CircuitState
	ConsecutiveFailures int
	// Trips counts transitions into the open state.
	Trips int
	// Rejected counts calls refused with ErrCircuitOpen.
	Rejected int
}

// CircuitBreaker fails calls fast once the provider has failed
// FailureThreshold times in a row, so a revoked key or exhausted quota does
// not cost a full retry budget per venue.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
	trips    int
	rejected int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return err != nil }
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{cfg: cfg}
}

// ExecuteVal calls fn if the breaker admits it and records the result.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	probe, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.done(probe, err)
	return val, err
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:               cb.currentState(),
		ConsecutiveFailures: cb.failures,
		Trips:               cb.trips,
		Rejected:            cb.rejected,
	}
}

func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == CircuitOpen && cb.coolingDone() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) coolingDone() bool {
	return cb.cfg.Clock.Since(cb.openedAt) >= cb.cfg.ResetTimeout
}

// admit reports whether a call may proceed and whether it is the half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if !cb.coolingDone() {
			break
		}
		cb.setState(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if !cb.probing {
			cb.probing = true
			return true, nil
		}
	}
	cb.rejected++
	return false, ErrCircuitOpen
}

func (cb *CircuitBreaker) done(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}

	if err == nil || !cb.cfg.ShouldTrip(err) {
		cb.failures = 0
		if probe {
			cb.setState(CircuitClosed)
		}
		return
	}

	cb.failures++
	switch {
	case probe:
		cb.trip()
	case cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.cfg.Clock.Now()
	if cb.state != CircuitOpen {
		cb.trips++
	}
	cb.setState(CircuitOpen)
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
