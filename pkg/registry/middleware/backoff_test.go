package middleware

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type stubRoundTripper struct {
	attempts int
	statuses []int
}

func (rt *stubRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	status := rt.statuses[rt.attempts]
	rt.attempts++
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func TestBackoffRetriesThrottledRequests(t *testing.T) {
	rt := &stubRoundTripper{statuses: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusOK}}
	clock := clockwork.NewFakeClock()
	transport := BackoffRoundTripper(rt, InitialBackoff, MaxBackoff, clock)

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result)
	go func() {
		req, _ := http.NewRequest("GET", "http://example.com/v2/", nil)
		resp, err := transport.RoundTrip(req)
		done <- result{resp, err}
	}()

	clock.BlockUntil(1)
	clock.Advance(InitialBackoff + time.Millisecond)
	clock.BlockUntil(1)
	clock.Advance(2*InitialBackoff + time.Millisecond)

	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	defer res.resp.Body.Close()
	if res.resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", res.resp.StatusCode)
	}
	if rt.attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", rt.attempts)
	}
}

func TestBackoffStopsWhenCancelled(t *testing.T) {
	rt := &stubRoundTripper{statuses: []int{http.StatusInternalServerError, http.StatusInternalServerError}}
	clock := clockwork.NewFakeClock()
	transport := BackoffRoundTripper(rt, InitialBackoff, MaxBackoff, clock)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest("GET", "http://example.com/v2/", nil)
	req = req.WithContext(ctx)

	done := make(chan error)
	go func() {
		_, err := transport.RoundTrip(req)
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	if err := <-done; err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if rt.attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", rt.attempts)
	}
}

func TestBackoffGrowth(t *testing.T) {
	b := &backoff{initial: time.Second, max: 5 * time.Second}
	var waits []time.Duration
	for i := 0; i < 5; i++ {
		b.failure()
		waits = append(waits, b.wait())
	}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i := range expected {
		if waits[i] != expected[i] {
			t.Errorf("Wait %d: expected %s, got %s", i, expected[i], waits[i])
		}
	}
}
