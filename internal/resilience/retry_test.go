package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFraction: 0,
	}
}

func TestDoOutcome_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	out := DoOutcome(context.Background(), fastRetry(3), func(ctx context.Context) Outcome {
		calls++
		if calls < 3 {
			return Outcome{Kind: Retryable, StatusCode: 503}
		}
		return Outcome{Kind: Success, StatusCode: 200, Body: []byte("ok")}
	})

	assert.Equal(t, Success, out.Kind)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []byte("ok"), out.Body)
}

func TestDoOutcome_FatalReturnsImmediately(t *testing.T) {
	calls := 0
	out := DoOutcome(context.Background(), fastRetry(3), func(ctx context.Context) Outcome {
		calls++
		return Outcome{Kind: Fatal, StatusCode: 404}
	})

	assert.Equal(t, Fatal, out.Kind)
	assert.Equal(t, 1, calls)
}

func TestDoOutcome_NotModifiedReturnsImmediately(t *testing.T) {
	calls := 0
	out := DoOutcome(context.Background(), fastRetry(3), func(ctx context.Context) Outcome {
		calls++
		return Outcome{Kind: NotModified, StatusCode: 304}
	})

	assert.Equal(t, NotModified, out.Kind)
	assert.Equal(t, 1, calls)
}

func TestDoOutcome_ExhaustsAttempts(t *testing.T) {
	calls := 0
	out := DoOutcome(context.Background(), fastRetry(3), func(ctx context.Context) Outcome {
		calls++
		return Outcome{Kind: Retryable, StatusCode: 500}
	})

	assert.Equal(t, Retryable, out.Kind)
	assert.Equal(t, 3, calls)
}

func TestDoOutcome_OnRetryCallback(t *testing.T) {
	cfg := fastRetry(3)
	var retries []int
	cfg.OnRetry = func(attempt int, err error) {
		retries = append(retries, attempt)
	}

	DoOutcome(context.Background(), cfg, func(ctx context.Context) Outcome {
		return Outcome{Kind: Retryable}
	})

	assert.Equal(t, []int{1, 2}, retries)
}

func TestDoVal_RetriesTransient(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("flaky"), 503)
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 2, calls)
}

func TestDoVal_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, eris.New("permanent")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := DoVal(ctx, fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("flaky"), 0)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestComputeBackoff_CappedAndMonotonic(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
	})

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
	assert.Equal(t, time.Second, computeBackoff(10, cfg))
}
