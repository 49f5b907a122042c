package carrier

import (
	"context"
	"net/http"
	"time"

	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultCallTimeout = 15 * time.Second
)

// Executor runs a single carrier call with bounded retry and exponential backoff.
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration

	// Sleep waits for d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(maxAttempts int, baseDelay, callTimeout time.Duration) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Executor{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		CallTimeout: callTimeout,
		Sleep:       sleepCtx,
	}
}

func DefaultExecutor() *Executor {
	return NewExecutor(DefaultMaxAttempts, DefaultBaseDelay, DefaultCallTimeout)
}

// Do calls op until it succeeds, returns a non-retryable error, or the attempts run out.
// Caller cancellation is honoured between attempts; an attempt already on the wire runs
// to completion under its own CallTimeout.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Wrapf(lastErr, "retry aborted after %d attempts: %v", attempt-1, err)
			}
			return errors.Wrap(err, "retry aborted")
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.CallTimeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) || attempt == e.MaxAttempts {
			break
		}

		delay := e.BaseDelay * time.Duration(1<<(attempt-1))
		if err := e.Sleep(ctx, delay); err != nil {
			return errors.Wrapf(lastErr, "retry aborted after %d attempts: %v", attempt, err)
		}
	}
	return lastErr
}

// Retryable classifies a failed call. Client errors (4xx) and validation failures are
// terminal; 408 and 429 are treated as transient. Everything else is retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *shiperr.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case shiperr.KindValidation, shiperr.KindNotFound, shiperr.KindConflict:
			return false
		case shiperr.KindCarrier:
			return se.Retryable
		}
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return retryableStatus(he.StatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code < 400 || code >= 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
