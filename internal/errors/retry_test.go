package errors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return New(ErrCodeTimeout, "slow backend", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableSurfacesImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return New(ErrCodeAuthRejected, "401", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeAuthRejected, GetCode(err))
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return New(ErrCodeRateLimited, "429", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls) // initial + 3 retries
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(), func() error {
		return New(ErrCodeTimeout, "slow", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithCount_ReportsRetries(t *testing.T) {
	calls := 0
	result, retries, err := RetryWithCount(context.Background(), fastRetryConfig(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", New(ErrCodeTimeout, "slow", nil)
		}
		return "answer", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", result)
	assert.Equal(t, 2, retries)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	v, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
