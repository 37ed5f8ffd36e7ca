package judgment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/aeroledger/aeroledger/server/internal/config"
)

// ErrCircuitOpen is returned while the provider circuit breaker is open.
var ErrCircuitOpen = errors.New("judgment: circuit breaker open")

// ProviderError carries the HTTP status of a failed provider call.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker fails provider calls fast after repeated transient failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
}

// NewCircuitBreaker opens after failureThreshold consecutive failures, probes
// again after openTimeout and closes after successThreshold probe successes.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	if successThreshold < 1 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open and its timeout has
// not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.openTimeout {
			return ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
	}
	return nil
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure notes a transient failure. Any failure while half-open
// reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	switch to {
	case CircuitOpen:
		cb.openedAt = cb.now()
	case CircuitClosed:
		cb.failures = 0
	}
	slog.Warn("judgment: circuit breaker transition", "from", from, "to", to, "failures", cb.failures)
}

// Guard wraps provider calls with a concurrency bound, request pacing, a
// per-attempt timeout, retries with exponential backoff and a circuit breaker.
// A zero-valued field disables the corresponding protection.
type Guard struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *CircuitBreaker
	retry   config.RetryConfig
	timeout time.Duration
}

// NewGuard builds a Guard from the judgment config.
func NewGuard(cfg config.JudgmentConfig) *Guard {
	g := &Guard{retry: cfg.Retry, timeout: cfg.Timeout}
	if cfg.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.Circuit.FailureThreshold > 0 {
		g.breaker = NewCircuitBreaker(cfg.Circuit.FailureThreshold, cfg.Circuit.SuccessThreshold, cfg.Circuit.OpenTimeout)
	}
	return g
}

// Breaker returns the guard's circuit breaker, or nil when disabled.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Do runs fn under the guard's protections. A timed-out attempt is not
// retried: its context.DeadlineExceeded is returned so the cycle aborts.
func (g *Guard) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire slot for %s: %w", op, err)
		}
		defer g.sem.Release(1)
	}

	backoff := g.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if g.breaker != nil {
			if err := g.breaker.Allow(); err != nil {
				return err
			}
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("pace %s: %w", op, err)
			}
		}

		err := g.attempt(ctx, fn)
		if err == nil {
			if g.breaker != nil {
				g.breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err

		if !retriable(err) {
			if g.breaker != nil && errors.Is(err, context.DeadlineExceeded) {
				g.breaker.RecordFailure()
			}
			return err
		}
		if g.breaker != nil {
			g.breaker.RecordFailure()
		}
		if attempt == g.retry.MaxRetries {
			break
		}

		slog.Warn("judgment: provider call failed, retrying",
			"op", op, "attempt", attempt+1, "backoff", backoff, "err", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if g.retry.MaxBackoff > 0 && backoff > g.retry.MaxBackoff {
			backoff = g.retry.MaxBackoff
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, g.retry.MaxRetries+1, lastErr)
}

func (g *Guard) attempt(ctx context.Context, fn func(context.Context) error) error {
	if g.timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	err := fn(actx)
	if err != nil && actx.Err() == context.DeadlineExceeded && ctx.Err() == nil &&
		!errors.Is(err, context.DeadlineExceeded) {
		// Some clients report a deadline as a generic transport error.
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// retriable reports whether err is transient: rate limiting, a server-side
// failure or a connection-level network error.
func retriable(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == http.StatusTooManyRequests || pe.Status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}
