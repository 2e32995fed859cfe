// Package middleware has HTTP transport middleware for talking to
// image registries politely.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

// RateLimiters keeps track of per-host request rate limits, for an
// arbitrary set of hosts.
//
// Use `(*RateLimiters).RoundTripper(tx, host)` to obtain a rate
// limited HTTP transport for an operation. The transport reacts to an
// `HTTP 429 Too Many Requests` response by halving the limit for that
// host; each transport will do so at most once, so concurrent
// requests through it don't *also* reduce the limit.
//
// Call `(*RateLimiters).Recover(host)` when an operation has
// succeeded without incident, which raises the limit modestly back
// towards RPS.
type RateLimiters struct {
	RPS    float64
	Burst  int
	Logger log.Logger

	mu      sync.Mutex
	perHost map[string]*rate.Limiter
}

// limiterFor returns the limiter for a host, creating it at the full
// rate for a host not seen before. mu must be held.
func (rl *RateLimiters) limiterFor(host string) *rate.Limiter {
	if rl.perHost == nil {
		rl.perHost = map[string]*rate.Limiter{}
	}
	if _, ok := rl.perHost[host]; !ok {
		rl.perHost[host] = rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst)
	}
	return rl.perHost[host]
}

func (rl *RateLimiters) clip(limit float64) float64 {
	return math.Min(rl.RPS, math.Max(minLimit, limit))
}

func (rl *RateLimiters) setLimit(host string, factor float64, msg string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter := rl.limiterFor(host)
	oldLimit := float64(limiter.Limit())
	newLimit := rl.clip(oldLimit * factor)
	if oldLimit != newLimit && rl.Logger != nil {
		rl.Logger.Log("info", msg, "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

// Recover should be called when a use of a RoundTripper has
// succeeded, to bump the limit back up again.
func (rl *RateLimiters) Recover(host string) {
	rl.mu.Lock()
	if rl.perHost == nil {
		rl.mu.Unlock()
		return
	}
	if _, ok := rl.perHost[host]; !ok {
		rl.mu.Unlock()
		return
	}
	rl.mu.Unlock()
	rl.setLimit(host, recoverBy, "increasing rate limit")
}

// RoundTripper returns a transport for a particular host, which waits
// for the host's rate limit before each request.
func (rl *RateLimiters) RoundTripper(tx http.RoundTripper, host string) http.RoundTripper {
	rl.mu.Lock()
	limiter := rl.limiterFor(host)
	rl.mu.Unlock()
	return &rateLimitedRoundTripper{
		parent:  rl,
		host:    host,
		limiter: limiter,
		tx:      tx,
	}
}

type rateLimitedRoundTripper struct {
	parent  *RateLimiters
	host    string
	limiter *rate.Limiter
	tx      http.RoundTripper

	mu        sync.Mutex
	backedOff bool
}

func (t *rateLimitedRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	// Wait errors out if the request cannot be processed within
	// the deadline. This is pre-emptive, instead of waiting the
	// entire duration.
	if err := t.limiter.Wait(r.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limited")
	}
	resp, err := t.tx.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		t.slowDown()
	}
	return resp, err
}

func (t *rateLimitedRoundTripper) slowDown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backedOff {
		return
	}
	t.backedOff = true
	t.parent.setLimit(t.host, 1/backOffBy, "reducing rate limit")
}
