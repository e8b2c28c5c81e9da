package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk gone")

	// When: wrapping with ViewError
	viewErr := IOError("failed to save segment", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, viewErr)
	assert.Equal(t, originalErr, errors.Unwrap(viewErr))
	assert.True(t, errors.Is(viewErr, originalErr))
}

func TestViewError_Error_ReturnsFormattedMessage(t *testing.T) {
	err := New(ErrCodeStoreUnavailable, "store \"persisted\" is unavailable", nil)
	assert.Equal(t, "[ERR_201_STORE_UNAVAILABLE] store \"persisted\" is unavailable", err.Error())
}

func TestViewError_Is_MatchesSentinelByCode(t *testing.T) {
	// Given: a store-unavailable error wrapped twice
	err := fmt.Errorf("insert: %w", StoreUnavailable("memory-0"))

	// Then: errors.Is matches the sentinel, not other sentinels
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, errors.Is(err, ErrViewClosed))
	assert.Equal(t, ErrCodeStoreUnavailable, GetCode(err))
	assert.Equal(t, CategoryStore, GetCategory(err))
}

func TestNew_DerivesCategorySeverityAndRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeStoreIO, CategoryStore, SeverityWarning, true},
		{ErrCodeStoreLocked, CategoryStore, SeverityWarning, true},
		{ErrCodeStoreCorrupt, CategoryStore, SeverityFatal, false},
		{ErrCodeTransactionFinished, CategoryValidation, SeverityError, false},
		{ErrCodeViewClosed, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
	assert.True(t, IsFatal(New(ErrCodeStoreCorrupt, "bad", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestBatchError_ReportsIndexAndUnwraps(t *testing.T) {
	cause := StoreUnavailable("memory-1")
	err := error(&BatchError{Index: 3, Cause: cause})

	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 3, be.Index)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.Contains(t, err.Error(), "batch entry 3 failed")
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := New(ErrCodeStoreLocked, "view directory is locked", nil).
		WithSuggestion("stop the other searchview process")

	out := FormatForCLI(err)
	assert.Contains(t, out, "Error: view directory is locked")
	assert.Contains(t, out, "Hint: stop the other searchview process")
	assert.Contains(t, out, "Code: ERR_204_STORE_LOCKED")

	assert.Contains(t, FormatForCLI(errors.New("boom")), "ERR_501_INTERNAL")
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs_IncludesSortedDetails(t *testing.T) {
	err := IOError("save failed", errors.New("EIO")).
		WithDetail("store", "persisted").
		WithDetail("segment", "7")

	attrs := LogAttrs(err)
	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"error", "error_code", "category", "retryable", "cause", "detail_segment", "detail_store"}, keys)

	assert.Len(t, LogAttrs(errors.New("plain")), 1)
	assert.Nil(t, LogAttrs(nil))
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a function failing with a validation error
	calls := 0
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return ValidationError("bad input", nil)
	})

	// Then: only one attempt is made
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond

	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, New(ErrCodeStoreLocked, "locked", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(WithMaxFailures(2), WithResetTimeout(time.Minute))
	cb.now = clock.now
	return cb
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker with two allowed failures
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	// When: one failure is recorded the task is still visited
	cb.RecordFailure()
	assert.True(t, cb.Allow())

	// Then: the second failure pauses it for the cooldown
	cb.RecordFailure()
	assert.False(t, cb.Allow())
	clock.advance(59 * time.Second)
	assert.False(t, cb.Allow())

	// And: after the cooldown a success closes it again
	clock.advance(time.Second)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.True(t, cb.Allow())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_TrialIsOneVisitPerCooldown(t *testing.T) {
	// Given: an open breaker whose cooldown has passed
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)
	cb.RecordFailure()
	cb.RecordFailure()
	clock.advance(time.Minute)

	// When: the trial is admitted
	require.True(t, cb.Allow())

	// Then: further visits wait for the next cooldown even without a report
	assert.False(t, cb.Allow())
	clock.advance(time.Minute)
	require.True(t, cb.Allow())

	// And: a failed trial restarts the cooldown
	clock.advance(30 * time.Second)
	cb.RecordFailure()
	clock.advance(45 * time.Second)
	assert.False(t, cb.Allow())
	clock.advance(15 * time.Second)
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_IgnoresNonPositiveThreshold(t *testing.T) {
	cb := NewCircuitBreaker(WithMaxFailures(0))
	for range 4 {
		cb.RecordFailure()
	}
	assert.True(t, cb.Allow())
}
