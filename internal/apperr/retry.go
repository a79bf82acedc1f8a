package apperr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// MaxAttempts returns the total number of attempts (first call included)
// allowed for a failure of category c.
func MaxAttempts(c Category) int {
	switch c {
	case InvalidCredentials, EmailUnconfirmed, AlreadyRegistered:
		return 1
	case ValidationError, PermissionDenied:
		return 1
	case NetworkError:
		return 3
	default:
		return 2
	}
}

// RetryOptions tunes the wait between attempts.
type RetryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryOptions mirrors the fetch layer defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

// Retry runs fn until it succeeds or the classified failure exhausts its
// attempt budget. The returned error is the last one produced by fn.
func Retry[T any](ctx context.Context, opts RetryOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		b.InitialInterval = opts.InitialInterval
	}
	if opts.MaxInterval > 0 {
		b.MaxInterval = opts.MaxInterval
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= MaxAttempts(Classify(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(b))
}
