package retry

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

func TestFixedBackoff(t *testing.T) {
	p := Fixed(5, 2*time.Second)
	for attempt := 1; attempt <= 4; attempt++ {
		if w := p.Backoff(attempt); w != 2*time.Second {
			t.Errorf("Expected wait after attempt %d to be 2s, got %v", attempt, w)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	initial := 1 * time.Second
	max := 10 * time.Second
	p := Exponential(10, initial, max)

	for i, expected := range []time.Duration{
		initial,         // after 1st attempt
		2 * time.Second, // after 2nd
		4 * time.Second,
		8 * time.Second,
		max, // capped from here on
		max,
	} {
		if w := p.Backoff(i + 1); w != expected {
			t.Errorf("Expected wait after attempt %d to be %v, got %v", i+1, expected, w)
		}
	}
	// very large attempt counts must not overflow below zero
	if w := p.Backoff(200); w != max {
		t.Errorf("Expected wait after attempt 200 to be %v, got %v", max, w)
	}
}

func TestDoFirstAttemptSucceeds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := 0
	err := Do(context.Background(), clock, Fixed(5, time.Second), func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Error(err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilDone(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := 0
	done := make(chan error)
	go func() {
		done <- Do(context.Background(), clock, Fixed(5, time.Second), func(ctx context.Context) (bool, error) {
			calls++
			return calls >= 3, nil
		})
	}()
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(1001 * time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Error(err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoAbortsOnError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := errors.New("boom")
	calls := 0
	done := make(chan error)
	go func() {
		done <- Do(context.Background(), clock, Fixed(5, time.Second), func(ctx context.Context) (bool, error) {
			calls++
			if calls == 2 {
				return false, boom
			}
			return false, nil
		})
	}()
	clock.BlockUntil(1)
	clock.Advance(1001 * time.Millisecond)
	if err := <-done; err != boom {
		t.Errorf("Expected fn's error back, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := 0
	done := make(chan error)
	go func() {
		done <- Do(context.Background(), clock, Fixed(3, time.Second), func(ctx context.Context) (bool, error) {
			calls++
			return false, nil
		})
	}()
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(1001 * time.Millisecond)
	}
	if err := <-done; errors.Cause(err) != ErrExhausted {
		t.Errorf("Expected ErrExhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoStopsWhenCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- Do(ctx, clock, Fixed(5, time.Minute), func(ctx context.Context) (bool, error) {
			return false, nil
		})
	}()
	clock.BlockUntil(1)
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDoTreatsZeroAttemptsAsOne(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := 0
	err := Do(context.Background(), clock, Policy{}, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if errors.Cause(err) != ErrExhausted {
		t.Errorf("Expected ErrExhausted, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}
