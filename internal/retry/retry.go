// Package retry wraps a single Drive call with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
)

// Policy controls how many times and how patiently an operation is retried.
type Policy struct {
	Attempts  uint
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
	// OnDelay observes every wait before a retry.
	OnDelay func(attempt uint, delay time.Duration, err error)
}

// DefaultPolicy is three attempts starting at half a second.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Retryable reports whether err may succeed on another attempt. Missing
// files, permission problems, configuration errors and cancellation never do.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, adapter.ErrNotFound), errors.Is(err, adapter.ErrForbidden):
		return false
	case adapter.IsConfigError(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
// The returned error is the last one fn produced.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.BaseDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			d := retry.BackOffDelay(n, err, config)
			if p.MaxDelay > 0 && d > p.MaxDelay {
				d = p.MaxDelay
			}
			log.WithFields(log.Fields{
				"op":      op,
				"attempt": n + 1,
				"delay":   d.String(),
			}).Warnf("retrying after error: %v", err)
			if p.OnDelay != nil {
				p.OnDelay(n+1, d, err)
			}
			return d
		}),
	)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
