// Package retry runs an operation on a fixed delay schedule.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a fixed backoff schedule. Attempt n (1-based) that fails waits
// Delays[n-1] before the next one; the last delay repeats when Attempts
// exceeds the schedule.
type Policy struct {
	Delays   []time.Duration
	Attempts int
}

func Default() Policy {
	return Policy{
		Delays:   []time.Duration{time.Second, 3 * time.Second, 5 * time.Second},
		Attempts: 3,
	}
}

type schedule struct {
	p Policy
	n int
}

func (s *schedule) NextBackOff() time.Duration {
	s.n++
	if s.n >= s.p.Attempts {
		return backoff.Stop
	}
	if len(s.p.Delays) == 0 {
		return 0
	}
	i := s.n - 1
	if i >= len(s.p.Delays) {
		i = len(s.p.Delays) - 1
	}
	return s.p.Delays[i]
}

func (s *schedule) Reset() { s.n = 0 }

// Do calls op until it succeeds, the schedule runs out, ctx is done or op
// returns an error for which retryable is false. The last error is returned.
func Do(
	ctx context.Context,
	p Policy,
	retryable func(error) bool,
	op func(ctx context.Context) error,
	onRetry func(err error, wait time.Duration),
) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	b := backoff.WithContext(&schedule{p: p}, ctx)
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, onRetry)
}

// Value is Do for operations that produce a result.
func Value[T any](
	ctx context.Context,
	p Policy,
	retryable func(error) bool,
	op func(ctx context.Context) (T, error),
	onRetry func(err error, wait time.Duration),
) (T, error) {
	var out T
	err := Do(ctx, p, retryable, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, onRetry)
	return out, err
}
