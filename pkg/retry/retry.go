// Package retry gives callers a way to attempt an operation a bounded
// number of times, with a wait between attempts. Every polling loop in
// this project is expressed in terms of a Policy, rather than ad hoc
// sleeps, so the attempt count and backoff can be configured and the
// loops can be driven by a fake clock in tests.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// ErrExhausted is returned by Do when the policy's attempts are spent
// before the operation reports it is done.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy says how many times to invoke an operation, and how long to
// wait after each attempt that does not complete it.
type Policy struct {
	// Attempts is the number of times to invoke the operation.
	// Values below one are treated as one.
	Attempts int
	// Backoff gives the wait after the given attempt (counted from
	// one). A nil Backoff means retry immediately.
	Backoff func(attempt int) time.Duration
}

// Fixed is a policy that waits the same interval between attempts.
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{
		Attempts: attempts,
		Backoff: func(int) time.Duration {
			return interval
		},
	}
}

// Exponential is a policy that doubles the wait after each attempt,
// starting at initial and capped at max.
func Exponential(attempts int, initial, max time.Duration) Policy {
	return Policy{
		Attempts: attempts,
		Backoff: func(attempt int) time.Duration {
			d := initial << uint(attempt-1)
			if d <= 0 || d > max {
				return max
			}
			return d
		},
	}
}

// Do invokes fn until it reports done, the policy's attempts are
// exhausted, or ctx is cancelled. An error from fn aborts the retries
// immediately and is returned as is; only a (false, nil) return is
// retried. When the attempts run out, Do returns ErrExhausted.
func Do(ctx context.Context, clock clockwork.Clock, policy Policy, fn func(ctx context.Context) (bool, error)) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == attempts {
			return ErrExhausted
		}
		var wait time.Duration
		if policy.Backoff != nil {
			wait = policy.Backoff(attempt)
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(wait):
			}
		}
	}
}
