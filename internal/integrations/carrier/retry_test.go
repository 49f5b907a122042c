package carrier

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func recordingExecutor(delays *[]time.Duration) *Executor {
	e := NewExecutor(3, time.Second, time.Second)
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return e
}

func TestExecutor_RetriesWithExponentialBackoff(t *testing.T) {
	var delays []time.Duration
	e := recordingExecutor(&delays)

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &HTTPError{Carrier: "X", StatusCode: http.StatusBadGateway}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestExecutor_ClientErrorIsNotRetried(t *testing.T) {
	var delays []time.Duration
	e := recordingExecutor(&delays)

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &HTTPError{Carrier: "X", StatusCode: http.StatusBadRequest}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, delays)
}

func TestExecutor_ExhaustionReturnsLastError(t *testing.T) {
	var delays []time.Duration
	e := recordingExecutor(&delays)

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.Errorf("timeout %d", calls)
	})
	require.EqualError(t, err, "timeout 3")
	require.Equal(t, 3, calls)
	require.Len(t, delays, 2)
}

func TestExecutor_CancelStopsAtRetryBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewExecutor(3, time.Hour, time.Second)

	calls := 0
	err := e.Do(ctx, func(callCtx context.Context) error {
		calls++
		cancel()
		// the in-flight attempt is not cancelled with the caller
		require.NoError(t, callCtx.Err())
		return errors.New("unavailable")
	})
	require.ErrorContains(t, err, "unavailable")
	require.ErrorContains(t, err, "context canceled")
	require.Equal(t, 1, calls)
}

func TestExecutor_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := DefaultExecutor().Do(ctx, func(context.Context) error { calls++; return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(nil))
	require.True(t, Retryable(errors.New("connection reset")))
	require.True(t, Retryable(&HTTPError{StatusCode: 500}))
	require.True(t, Retryable(&HTTPError{StatusCode: 429}))
	require.True(t, Retryable(&HTTPError{StatusCode: 408}))
	require.False(t, Retryable(&HTTPError{StatusCode: 404}))
	require.False(t, Retryable(errors.Wrap(&HTTPError{StatusCode: 422}, "create")))
	require.False(t, Retryable(shiperr.Validation("weightGrams", "is required")))
	require.True(t, Retryable(shiperr.Carrier("X", 0, true, errors.New("eof"))))
	require.False(t, Retryable(shiperr.Carrier("X", 400, false, errors.New("bad"))))
}
