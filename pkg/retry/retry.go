package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PermanentError marks a failure that retrying cannot fix, for example a
// request the backend rejected as malformed.
type PermanentError interface {
	error
	IsPermanent() bool
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string     { return e.err.Error() }
func (e *permanentError) IsPermanent() bool { return true }
func (e *permanentError) Unwrap() error     { return e.err }

func NewPermanentError(err error) PermanentError {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  time.Minute,
	}
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime

	var b backoff.BackOff = exp
	b = backoff.WithContext(b, ctx)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return b
}

// Do runs fn until it succeeds, returns a permanent error, the context is
// cancelled, or the policy is exhausted. Errors are retryable unless they
// carry the PermanentError marker.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}

		var perm PermanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, policy.backoff(ctx))
}

// DoWithNotify is Do with a callback invoked before each sleep.
func DoWithNotify(ctx context.Context, policy Policy, fn func() error, notify func(err error, nextDelay time.Duration)) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}

		var perm PermanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotify(operation, policy.backoff(ctx), backoff.Notify(notify))
}
