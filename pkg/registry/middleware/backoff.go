package middleware

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	InitialBackoff = 500 * time.Millisecond
	MaxBackoff     = 10 * time.Second
)

type backoffRoundTripper struct {
	roundTripper               http.RoundTripper
	initialBackoff, maxBackoff time.Duration
	clock                      clockwork.Clock
}

// BackoffRoundTripper is an http.RoundTripper which retries throttled
// (429) and failing-upstream (5xx) requests after an exponentially
// growing wait. To bound the total time spent, use Request.WithContext.
//
// r              -- upstream roundtripper
// initialBackoff -- wait after the first failed attempt
// maxBackoff     -- maximum wait between attempts
func BackoffRoundTripper(r http.RoundTripper, initialBackoff, maxBackoff time.Duration, clock clockwork.Clock) http.RoundTripper {
	return &backoffRoundTripper{
		roundTripper:   r,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		clock:          clock,
	}
}

func (c *backoffRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	b := &backoff{
		initial: c.initialBackoff,
		max:     c.maxBackoff,
	}
	for {
		resp, err := c.roundTripper.RoundTrip(r)
		switch {
		case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
			fallthrough
		case resp != nil && resp.StatusCode >= 500:
			// Request rate-limited or the upstream is struggling;
			// back off and retry.
			resp.Body.Close()
			b.failure()
			select {
			case <-r.Context().Done():
				return nil, r.Context().Err()
			case <-c.clock.After(b.wait()):
			}
		default:
			return resp, err
		}
	}
}

// backoff calculates an exponential backoff, used to pace retried
// requests.
type backoff struct {
	initial time.Duration
	max     time.Duration

	current time.Duration
}

// failure is called each time a request fails.
func (b *backoff) failure() {
	b.current *= 2
	if b.current == 0 {
		b.current = b.initial
	} else if b.current > b.max {
		b.current = b.max
	}
}

// wait says how long to sleep before the next attempt.
func (b *backoff) wait() time.Duration {
	return b.current
}
