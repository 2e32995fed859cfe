package state

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/moorcd/moor/pkg/event"
	"github.com/moorcd/moor/pkg/retry"
)

func newTestBackend(t *testing.T) (*Backend, *MockS3, *MockDynamo, clockwork.FakeClock) {
	t.Helper()
	fs3 := NewMockS3()
	fdb := NewMockDynamo()
	clock := clockwork.NewFakeClockAt(time.Date(2019, 7, 10, 12, 0, 0, 0, time.UTC))
	b := New(fs3, fdb, Config{Bucket: "moor-state", Table: "moor-locks", Region: "eu-west-1"}, log.NewNopLogger())
	b.clock = clock
	return b, fs3, fdb, clock
}

func TestEnsureIdempotent(t *testing.T) {
	b, fs3, fdb, _ := newTestBackend(t)
	ctx := context.Background()

	if err := b.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, fs3.CreateCalls)
	assert.Equal(t, 1, fs3.VersionCalls)
	assert.Equal(t, 1, fdb.CreateCalls)

	if err := b.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, fs3.CreateCalls, "second Ensure should find the bucket")
	assert.Equal(t, 1, fs3.VersionCalls, "versioning is only set on creation")
	assert.Equal(t, 1, fdb.CreateCalls, "second Ensure should find the table")
}

func TestEnsureBucketTaken(t *testing.T) {
	b, fs3, _, _ := newTestBackend(t)
	fs3.TakenByOther = true

	err := b.Ensure(context.Background())
	if err == nil {
		t.Fatal("expected error for bucket owned by another account")
	}
	perr, ok := err.(*ProvisioningError)
	if !ok {
		t.Fatalf("expected *ProvisioningError, got %T: %v", err, err)
	}
	assert.Equal(t, "bucket", perr.Resource)
	assert.Equal(t, "moor-state", perr.Name)
}

func TestPutGetDeployment(t *testing.T) {
	b, _, _, _ := newTestBackend(t)
	p := b.Partition("staging")
	ctx := context.Background()

	_, err := p.GetDeployment(ctx, "main", "helloworld")
	if err != ErrNoRecord {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}

	rec := ServiceDeployment{
		Environment:     "staging",
		Cluster:         "main",
		Service:         "helloworld",
		Family:          "helloworld",
		Artifact:        "registry.example.com/moorcd/helloworld@sha256:2539a6c0182d7ad46a17e0a08ef2eadbde8bbddcad512cbd9d682d36a51d3e07",
		DesiredRevision: "helloworld:42",
		Status:          StatusRollingOut,
		StartedAt:       time.Date(2019, 7, 10, 12, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2019, 7, 10, 12, 1, 0, 0, time.UTC),
	}
	if err := p.PutDeployment(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := p.GetDeployment(ctx, "main", "helloworld")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, rec, got)
}

func TestServiceRecordsArePerEnvironment(t *testing.T) {
	b, _, _, _ := newTestBackend(t)
	ctx := context.Background()

	staging := b.Partition("staging")
	prod := b.Partition("production")

	rec := ServiceDeployment{Cluster: "main", Service: "helloworld", Status: StatusStable}
	if err := staging.PutDeployment(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if _, err := prod.GetDeployment(ctx, "main", "helloworld"); err != ErrNoRecord {
		t.Errorf("expected ErrNoRecord from other partition, got %v", err)
	}
	got, err := staging.GetDeployment(ctx, "main", "helloworld")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "staging", got.Environment, "PutDeployment fills in the environment")
}

func TestListDeployments(t *testing.T) {
	b, _, _, _ := newTestBackend(t)
	p := b.Partition("staging")
	ctx := context.Background()

	for _, rec := range []ServiceDeployment{
		{Cluster: "main", Service: "helloworld", Status: StatusStable},
		{Cluster: "main", Service: "nats", Status: StatusRollingOut},
		{Cluster: "batch", Service: "cron", Status: StatusFailed},
	} {
		if err := p.PutDeployment(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := p.ListDeployments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	// keys sort lexically: batch/cron, main/helloworld, main/nats
	assert.Equal(t, "cron", recs[0].Service)
	assert.Equal(t, "helloworld", recs[1].Service)
	assert.Equal(t, "nats", recs[2].Service)
}

func TestAppendAndListEvents(t *testing.T) {
	b, _, _, clock := newTestBackend(t)
	p := b.Partition("staging")
	ctx := context.Background()

	for _, typ := range []string{event.EventRolloutStarted, event.EventRevisionRegistered, event.EventRolloutStable} {
		if err := p.AppendEvent(ctx, event.Event{Type: typ, Service: "helloworld"}); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)
	}

	events, err := p.ListEvents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	assert.Equal(t, event.EventRolloutStarted, events[0].Type)
	assert.Equal(t, event.EventRolloutStable, events[2].Type)
	assert.Equal(t, "staging", events[0].Environment, "AppendEvent fills in the environment")
	assert.NotEmpty(t, events[0].ID)
	assert.True(t, events[0].Time.Before(events[1].Time))

	recent, err := p.ListEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	assert.Equal(t, event.EventRevisionRegistered, recent[0].Type)
	assert.Equal(t, event.EventRolloutStable, recent[1].Type)
}

func TestLockHeld(t *testing.T) {
	b, _, _, _ := newTestBackend(t)
	p := b.Partition("staging")
	ctx := context.Background()

	first, err := p.Lock(ctx, LockInfo{Who: "alice@ci", Operation: "deploy"}, retry.Fixed(1, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Lock(ctx, LockInfo{Who: "bob@laptop", Operation: "deploy"}, retry.Fixed(1, time.Second))
	herr, ok := err.(*LockHeldError)
	if !ok {
		t.Fatalf("expected *LockHeldError, got %T: %v", err, err)
	}
	assert.Equal(t, "alice@ci", herr.Holder.Who)
	assert.Contains(t, herr.Error(), "alice@ci")

	if err := first.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestLockUnlockRelock(t *testing.T) {
	b, _, fdb, _ := newTestBackend(t)
	p := b.Partition("staging")
	ctx := context.Background()

	lock, err := p.Lock(ctx, LockInfo{Who: "alice@ci", Operation: "deploy"}, retry.Fixed(1, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	assert.Empty(t, fdb.Items, "unlock should remove the lock item")

	if err := lock.Unlock(ctx); err != ErrLockNotHeld {
		t.Errorf("expected ErrLockNotHeld on double unlock, got %v", err)
	}

	again, err := p.Lock(ctx, LockInfo{Who: "bob@laptop", Operation: "deploy"}, retry.Fixed(1, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := again.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestLockWaitsForRelease(t *testing.T) {
	b, _, _, clock := newTestBackend(t)
	p := b.Partition("staging")
	ctx := context.Background()

	first, err := p.Lock(ctx, LockInfo{Who: "alice@ci", Operation: "deploy"}, retry.Fixed(1, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		lock *Lock
		err  error
	}
	done := make(chan result)
	go func() {
		lock, err := p.Lock(ctx, LockInfo{Who: "bob@laptop", Operation: "deploy"}, retry.Fixed(5, time.Second))
		done <- result{lock, err}
	}()

	clock.BlockUntil(1)
	if err := first.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	clock.Advance(1001 * time.Millisecond)

	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	assert.Equal(t, "bob@laptop", res.lock.Info().Who)
	if err := res.lock.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestForceUnlock(t *testing.T) {
	b, _, _, _ := newTestBackend(t)
	p := b.Partition("staging")
	ctx := context.Background()

	if _, err := p.ForceUnlock(ctx); err != ErrLockNotHeld {
		t.Fatalf("expected ErrLockNotHeld with no lock, got %v", err)
	}

	stuck, err := p.Lock(ctx, LockInfo{Who: "alice@ci", Operation: "deploy"}, retry.Fixed(1, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	holder, err := p.ForceUnlock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "alice@ci", holder.Who)

	// the original holder's unlock must not pass once the lock has
	// been broken (and maybe retaken)
	if err := stuck.Unlock(ctx); err != ErrLockNotHeld {
		t.Errorf("expected ErrLockNotHeld after force-unlock, got %v", err)
	}

	relock, err := p.Lock(ctx, LockInfo{Who: "bob@laptop", Operation: "deploy"}, retry.Fixed(1, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := relock.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestNewLockInfo(t *testing.T) {
	info := NewLockInfo("deploy")
	assert.Equal(t, "deploy", info.Operation)
	assert.NotEmpty(t, info.ID)
	assert.NotEmpty(t, info.Who)
}
