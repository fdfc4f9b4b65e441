// Package resilience protects the write path: one circuit breaker per
// (symbol, session) write key, wrapped in exponential backoff, so a run
// of storage-busy failures on a single key trips that key alone rather
// than retrying forever or starving writes to every other key.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"alphahistory/internal/xerrors"
)

// CircuitState is the state of a partition's write breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // writes proceed normally
	CircuitOpen     CircuitState = "OPEN"      // tripped, rejecting writes
	CircuitHalfOpen CircuitState = "HALF_OPEN" // probing whether storage recovered
)

// CircuitBreakerConfig tunes how many storage-busy failures a partition
// tolerates before its breaker opens.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive storage-busy failures before opening
	SuccessThreshold int           // consecutive successes in half-open before closing
	Timeout          time.Duration // how long a partition stays open before probing again
}

// DefaultCircuitBreakerConfig returns sensible defaults for local SQLite
// and columnar-file writers, where a busy failure usually clears in
// milliseconds, not seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker guards one partition's write path. It is keyed by
// partition (see internal/engine.partitionKey: "write:<symbol>:<session>"),
// not by an arbitrary caller-chosen name, so Stats and logs can always be
// traced back to the (symbol, session) that tripped it.
type CircuitBreaker struct {
	partitionKey string
	config       CircuitBreakerConfig

	mu              sync.RWMutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
}

// NewCircuitBreaker creates a closed breaker for partitionKey.
func NewCircuitBreaker(partitionKey string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		partitionKey:    partitionKey,
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// ErrCircuitOpen is returned when a partition's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Execute runs fn with circuit breaker protection. Only errors classified
// as transient storage conditions (xerrors.Retryable — KindStorageBusy)
// count toward tripping the breaker; any other error (a validation
// failure, a corrupt manifest, a cancelled context) passes straight
// through without touching partition health, since it is not evidence the
// storage backend itself is unwell.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	cb.mu.Lock()
	cb.totalRequests++
	cb.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		cb.recordResult(err)
		return err
	case <-ctx.Done():
		cb.recordResult(ctx.Err())
		return ctx.Err()
	}
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		cb.totalRejected++
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.totalSuccesses++
		switch cb.state {
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionTo(CircuitClosed)
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.totalFailures++
	if !xerrors.Retryable(err) {
		return
	}

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	cb.state = state
	cb.lastStateChange = time.Now()
	cb.failures = 0
	cb.successes = 0
}

// State returns the partition's current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// PartitionKey returns the (symbol, session) write key this breaker guards.
func (cb *CircuitBreaker) PartitionKey() string {
	return cb.partitionKey
}

// Stats returns the breaker's counters, surfaced by
// internal/health.BreakerCheck.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		PartitionKey:    cb.partitionKey,
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// CircuitBreakerStats is a point-in-time snapshot of one partition's
// breaker counters.
type CircuitBreakerStats struct {
	PartitionKey    string
	State           CircuitState
	TotalRequests   int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRejected   int64
	CurrentFailures int
	LastFailureTime time.Time
	LastStateChange time.Time
}

// FailureRate returns the fraction of requests that failed, as a percentage.
func (s CircuitBreakerStats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRequests) * 100
}
