package resilience

import (
	"context"
	"sync"
	"time"

	"alphahistory/internal/xerrors"
)

// CircuitBreakerRegistry lazily creates and holds one CircuitBreaker per
// partition key, so every (symbol, session) write path gets independent
// breaker state instead of sharing a single global breaker.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a registry that builds new breakers
// with config.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for partitionKey, creating it on first use.
func (r *CircuitBreakerRegistry) Get(partitionKey string) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[partitionKey]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[partitionKey]; ok {
		return cb
	}

	cb := NewCircuitBreaker(partitionKey, r.config)
	r.breakers[partitionKey] = cb
	return cb
}

// AllStats returns a snapshot of every partition breaker currently
// registered, surfaced by internal/health.BreakerCheck.
func (r *CircuitBreakerRegistry) AllStats() []CircuitBreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	return stats
}

// RetryWithBackoff retries a write with exponential backoff, but only when
// the failure is classified retryable (xerrors.Retryable — KindStorageBusy);
// spec.md scopes retry to the transient storage-busy case a write can hit
// mid-append, so anything else (a validation error, a corrupt manifest)
// returns to the caller on the first attempt instead of being retried
// blindly.
type RetryWithBackoff struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool

	// OnRetry, when set, is called before each backoff sleep with the
	// operation label, the attempt number, the delay about to be slept,
	// and the error that triggered the retry. engine.Engine wires this
	// to obslog.LogRetry.
	OnRetry func(op string, attempt int, delay time.Duration, err error)
}

// Execute runs fn under op's label, retrying with backoff while the
// error is retryable.
func (r RetryWithBackoff) Execute(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := r.InitialDelay

	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !xerrors.Retryable(err) {
			return err
		}

		if attempt < r.MaxAttempts-1 {
			sleepDuration := delay
			if r.Jitter {
				jitter := time.Duration(float64(delay) * 0.25)
				sleepDuration = delay + jitter/2
			}

			if r.OnRetry != nil {
				r.OnRetry(op, attempt+1, sleepDuration, err)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepDuration):
			}

			delay = time.Duration(float64(delay) * r.BackoffFactor)
			if delay > r.MaxDelay {
				delay = r.MaxDelay
			}
		}
	}

	return lastErr
}

// ExecuteWithCircuitBreaker runs fn through cb under op's label,
// retrying the whole circuit-protected call with backoff while the
// failure is retryable.
func (r RetryWithBackoff) ExecuteWithCircuitBreaker(ctx context.Context, op string, cb *CircuitBreaker, fn func() error) error {
	return r.Execute(ctx, op, func() error {
		return cb.Execute(ctx, fn)
	})
}
