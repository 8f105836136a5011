// Package retry wraps an operation that may lose a uniqueness race.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is how many attempts to make in total and how long to wait
// between them.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy makes three attempts a few milliseconds apart.
var DefaultPolicy = Policy{
	Attempts:     3,
	InitialDelay: 5 * time.Millisecond,
	MaxDelay:     50 * time.Millisecond,
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialDelay > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialDelay
		exp.MaxInterval = p.MaxDelay
		exp.MaxElapsedTime = 0
		b = exp
	}
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// OnConflict runs op until it succeeds, fails with an error that does not
// match conflict, or runs out of attempts. In the last case the conflict
// error itself is returned so the caller can tell it apart.
func OnConflict[T any](ctx context.Context, p Policy, conflict error, op func(ctx context.Context) (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !errors.Is(err, conflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx))
}
