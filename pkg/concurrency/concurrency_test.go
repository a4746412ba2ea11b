package concurrency

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_RespectsEnvironmentOverrides(t *testing.T) {
	t.Setenv("ICARUS_MAX_CONCURRENT", "42")
	t.Setenv("ICARUS_RUNNER_WORKERS", "7")
	t.Setenv("ICARUS_PROCESSOR_MODE", "SEQUENTIAL")
	t.Setenv("ICARUS_ITERATOR_MODE", "PARALLEL")

	cfg := LoadConfig()

	assert.Equal(t, 42, cfg.MaxConcurrent)
	assert.Equal(t, 7, cfg.RunnerWorkers)
	assert.Equal(t, ProcessorModeSequential, cfg.ProcessorMode)
	assert.Equal(t, IteratorModeParallel, cfg.IteratorMode)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.GreaterOrEqual(t, cfg.MaxConcurrent, 1)
	assert.GreaterOrEqual(t, cfg.RunnerWorkers, 1)
	assert.NotEmpty(t, cfg.Source)
}

func TestLimiter_AcquireReleaseTracksMetrics(t *testing.T) {
	limiter := NewLimiter(2)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	assert.EqualValues(t, 1, limiter.CurrentActive())
	limiter.Release()

	metrics := limiter.GetMetrics()
	assert.EqualValues(t, 1, metrics.TotalAcquired)
	assert.EqualValues(t, 1, metrics.TotalReleased)
}

func TestLimiter_AcquireHonorsContextCancellation(t *testing.T) {
	limiter := NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLimiter_CircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	limiter := NewLimiterWithCircuitBreaker(1, cb)
	ctx := context.Background()

	_ = limiter.GoSync(ctx, func() error { return errors.New("boom") })

	assert.Equal(t, StateOpen, cb.GetState())

	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "circuit breaker is open"))
}

func TestCircuitBreaker_ReopensOnFailureDuringHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Nanosecond)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())

	// with a one-nanosecond reset timeout, IsOpen immediately transitions to half-open
	assert.False(t, cb.IsOpen())
	assert.Equal(t, StateHalfOpen, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_ClosesAfterConsecutiveSuccessesInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Nanosecond)
	cb.RecordFailure()
	require.False(t, cb.IsOpen()) // transitions to half-open

	for i := 0; i < 5; i++ {
		cb.RecordSuccess()
	}

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.EqualValues(t, 0, cb.GetConsecutiveFailures())
}
