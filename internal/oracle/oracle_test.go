package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractCodeFenced(t *testing.T) {
	code, err := ExtractCode("Here is the fixed script:\n```python\nimport sys\n\ndef transform(source):\n    return source\n```\nLet me know if it helps.")
	require.NoError(t, err)
	assert.Equal(t, "import sys\n\ndef transform(source):\n    return source", code)
}

func TestExtractCodeFenceWithoutLanguage(t *testing.T) {
	code, err := ExtractCode("```\ndef transform(source):\n    return source\n```")
	require.NoError(t, err)
	assert.Contains(t, code, "def transform")
}

func TestExtractCodeBareScript(t *testing.T) {
	code, err := ExtractCode("import sys\n\ndef transform(source):\n    return source\n")
	require.NoError(t, err)
	assert.Contains(t, code, "def transform")
}

func TestExtractCodeRejectsProse(t *testing.T) {
	_, err := ExtractCode("I am unable to repair this script because the tests are contradictory.")
	assert.Error(t, err)
}

func TestExtractCodeRejectsEmpty(t *testing.T) {
	_, err := ExtractCode("   \n  ")
	assert.Error(t, err)

	_, err = ExtractCode("```python\n```")
	assert.Error(t, err)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cb.Allow(), "open timeout elapsed, probe should pass")
	require.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, time.Millisecond)
	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestRetryWithBackoffRetriesTransientErrors(t *testing.T) {
	a := &Adapter{retry: RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           time.Second,
	}}
	a.log = testLogger()

	calls := 0
	err := a.retryWithBackoff(context.Background(), "repair", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffStopsOnNonRetriable(t *testing.T) {
	a := &Adapter{retry: RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           time.Second,
	}}
	a.log = testLogger()

	calls := 0
	err := a.retryWithBackoff(context.Background(), "repair", func(ctx context.Context) error {
		calls++
		return errors.New("401 unauthorized")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "client errors must not retry")
}

func TestRetryWithBackoffExhaustsBudget(t *testing.T) {
	a := &Adapter{retry: RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           time.Second,
	}}
	a.log = testLogger()

	calls := 0
	err := a.retryWithBackoff(context.Background(), "repair", func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries")
}

func TestIsRetriableError(t *testing.T) {
	assert.True(t, isRetriableError(errors.New("429 rate limit exceeded")))
	assert.True(t, isRetriableError(errors.New("bad gateway")))
	assert.True(t, isRetriableError(context.DeadlineExceeded))
	assert.False(t, isRetriableError(errors.New("400 bad request")))
	assert.False(t, isRetriableError(nil))
}

func TestNewAdapterRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAdapter(Config{})
	assert.Error(t, err)
}
