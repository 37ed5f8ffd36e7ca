package judgment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroledger/aeroledger/server/internal/config"
)

func fastConfig() config.JudgmentConfig {
	return config.JudgmentConfig{
		Timeout: time.Second,
		Retry: config.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

func TestGuard_RetriesTransient(t *testing.T) {
	g := NewGuard(fastConfig())
	var calls int
	err := g.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &ProviderError{Provider: "test", Status: 503, Err: errors.New("unavailable")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuard_GivesUpAfterMaxRetries(t *testing.T) {
	g := NewGuard(fastConfig())
	var calls int
	err := g.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &ProviderError{Provider: "test", Status: 429, Err: errors.New("slow down")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
}

func TestGuard_NoRetryOnClientError(t *testing.T) {
	g := NewGuard(fastConfig())
	var calls int
	err := g.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &ProviderError{Provider: "test", Status: 401, Err: errors.New("bad key")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuard_TimeoutAbortsWithoutRetry(t *testing.T) {
	cfg := fastConfig()
	cfg.Timeout = 10 * time.Millisecond
	g := NewGuard(cfg)

	var calls int
	err := g.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestGuard_BoundsConcurrency(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrent = 2
	g := NewGuard(cfg)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), "op", func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, 1, time.Minute)
	cb.now = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State(), "half-open failure reopens")

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestGuard_OpenCircuitFailsFast(t *testing.T) {
	cfg := fastConfig()
	cfg.Retry.MaxRetries = 0
	cfg.Circuit = config.CircuitConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Hour}
	g := NewGuard(cfg)

	_ = g.Do(context.Background(), "op", func(context.Context) error {
		return &ProviderError{Provider: "test", Status: 500, Err: errors.New("boom")}
	})
	var called bool
	err := g.Do(context.Background(), "op", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}
