// Package rollout drives one service onto a new artifact: resolve the
// tag to a digest, register a pinned definition revision, update the
// service, and watch it until the platform reports steady state or a
// ceiling elapses.
package rollout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"

	"github.com/moorcd/moor/pkg/artifact"
	"github.com/moorcd/moor/pkg/cluster"
	"github.com/moorcd/moor/pkg/definition"
	"github.com/moorcd/moor/pkg/event"
	"github.com/moorcd/moor/pkg/registry"
	"github.com/moorcd/moor/pkg/retry"
)

const (
	DefaultPollInterval     = 10 * time.Second
	DefaultStabilizeCeiling = 10 * time.Minute
)

// State is a rollout state machine state. Stable, Failed and TimedOut
// are terminal.
type State string

const (
	StateInitiated            State = "Initiated"
	StateAwaitingDigest       State = "AwaitingDigest"
	StateDefinitionRegistered State = "DefinitionRegistered"
	StateServiceUpdating      State = "ServiceUpdating"
	StateStable               State = "Stable"
	StateFailed               State = "Failed"
	StateTimedOut             State = "TimedOut"
)

func (s State) Terminal() bool {
	switch s {
	case StateStable, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// ServiceUpdateError is an unexpected orchestration API failure while
// updating the service or reading its status. It is surfaced
// immediately and not retried.
type ServiceUpdateError struct {
	ID  cluster.ServiceID
	Err error
}

func (e *ServiceUpdateError) Error() string {
	return fmt.Sprintf("service %s: %s", e.ID, e.Err)
}

func (e *ServiceUpdateError) Unwrap() error {
	return e.Err
}

// StabilizationTimeoutError means the ceiling elapsed before the
// service settled on the new revision. The service is left in
// whatever state the platform reports; there is no automatic revert.
type StabilizationTimeoutError struct {
	ID       cluster.ServiceID
	Revision string
	Ceiling  time.Duration
	Last     cluster.ServiceStatus
}

func (e *StabilizationTimeoutError) Error() string {
	return fmt.Sprintf("service %s did not stabilize on %s within %s (running %d/%d, %d deployments)",
		e.ID, e.Revision, e.Ceiling, e.Last.RunningCount, e.Last.DesiredCount, e.Last.Deployments)
}

// Spec names what one rollout is to do: point the service at the
// family's next revision, pinned to the published artifact.
type Spec struct {
	Service  cluster.ServiceID
	Family   string
	Artifact artifact.Artifact
}

// Result is where a rollout ended up. Definition and Status hold what
// had been established by the time the terminal state was reached, so
// a Failed result still names the revision if registration succeeded.
type Result struct {
	State      State
	Artifact   artifact.Artifact
	Definition definition.Definition
	Status     cluster.ServiceStatus
}

// Controller runs rollouts. The zero value of every optional field
// gets a sensible default; Cluster, Store and Resolver are required.
type Controller struct {
	Cluster  cluster.Cluster
	Store    definition.Store
	Resolver registry.Resolver

	// ResolvePolicy bounds tag-to-digest resolution.
	ResolvePolicy retry.Policy
	// PollInterval is the time between stability polls.
	PollInterval time.Duration
	// StabilizeCeiling bounds the whole stabilization watch.
	StabilizeCeiling time.Duration

	Clock  clockwork.Clock
	Logger log.Logger

	// Events, when set, receives an audit event for each milestone.
	// A failed write is logged and otherwise ignored; the audit trail
	// never decides a rollout.
	Events event.Writer

	// OnTransition, when set, observes every state change. The release
	// pipeline uses it to time the stages.
	OnTransition func(from, to State)
}

// Run executes the state machine to a terminal state. The returned
// error is nil exactly when the result state is Stable; a TimedOut
// result carries a *StabilizationTimeoutError.
func (c *Controller) Run(ctx context.Context, spec Spec) (Result, error) {
	res := Result{State: StateInitiated, Artifact: spec.Artifact}

	c.transition(&res, StateAwaitingDigest)
	digest, err := registry.AwaitDigest(ctx, c.clock(), c.resolvePolicy(), c.Resolver, spec.Artifact.Ref())
	if err != nil {
		return c.fail(ctx, res, spec, err)
	}
	res.Artifact = spec.Artifact.WithDigest(digest)
	c.event(ctx, event.Event{
		Type:    event.EventDigestResolved,
		Service: spec.Service.String(),
		Image:   res.Artifact.String(),
	})

	current, err := c.Store.Current(ctx, spec.Family)
	if err != nil {
		return c.fail(ctx, res, spec, err)
	}
	draft, err := definition.Mutate(current, res.Artifact.Pinned())
	if err != nil {
		return c.fail(ctx, res, spec, err)
	}
	def, err := c.Store.Register(ctx, draft)
	if err != nil {
		return c.fail(ctx, res, spec, err)
	}
	res.Definition = def
	c.transition(&res, StateDefinitionRegistered)
	c.event(ctx, event.Event{
		Type:     event.EventRevisionRegistered,
		Service:  spec.Service.String(),
		Revision: def.String(),
		Image:    res.Artifact.String(),
	})

	if err := c.Cluster.UpdateService(ctx, spec.Service, def.ID); err != nil {
		return c.fail(ctx, res, spec, &ServiceUpdateError{ID: spec.Service, Err: err})
	}
	c.transition(&res, StateServiceUpdating)
	c.event(ctx, event.Event{
		Type:     event.EventServiceUpdated,
		Service:  spec.Service.String(),
		Revision: def.String(),
	})

	status, err := c.watch(ctx, spec.Service, def.ID)
	res.Status = status
	if err != nil {
		if timeout, ok := err.(*StabilizationTimeoutError); ok {
			c.transition(&res, StateTimedOut)
			c.event(ctx, event.Event{
				Type:     event.EventRolloutTimedOut,
				Service:  spec.Service.String(),
				Revision: def.String(),
			})
			c.logger().Log("warning", "rollout timed out", "service", spec.Service.String(), "revision", def.String(), "ceiling", timeout.Ceiling.String())
			return res, err
		}
		return c.fail(ctx, res, spec, err)
	}
	c.transition(&res, StateStable)
	c.event(ctx, event.Event{
		Type:     event.EventRolloutStable,
		Service:  spec.Service.String(),
		Revision: def.String(),
	})
	c.logger().Log("info", "service stable", "service", spec.Service.String(), "revision", def.String(), "running", status.RunningCount)
	return res, nil
}

// watch polls the service until it is stable on the revision, the
// ceiling elapses, or the context is done.
func (c *Controller) watch(ctx context.Context, id cluster.ServiceID, revisionID string) (cluster.ServiceStatus, error) {
	var (
		clock    = c.clock()
		interval = c.pollInterval()
		ceiling  = c.stabilizeCeiling()
		deadline = clock.Now().Add(ceiling)
		last     cluster.ServiceStatus
	)
	for {
		status, err := c.Cluster.ServiceStatus(ctx, id)
		if err != nil {
			return last, &ServiceUpdateError{ID: id, Err: err}
		}
		last = status
		if status.Stable(revisionID) {
			return last, nil
		}
		c.logger().Log("info", "waiting for service to stabilize",
			"service", id.String(),
			"running", status.RunningCount,
			"desired", status.DesiredCount,
			"deployments", status.Deployments)
		if clock.Now().Add(interval).After(deadline) {
			return last, &StabilizationTimeoutError{ID: id, Revision: revisionID, Ceiling: ceiling, Last: last}
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-clock.After(interval):
		}
	}
}

func (c *Controller) fail(ctx context.Context, res Result, spec Spec, err error) (Result, error) {
	c.transition(&res, StateFailed)
	c.event(ctx, event.Event{
		Type:    event.EventRolloutFailed,
		Service: spec.Service.String(),
		Message: err.Error(),
	})
	c.logger().Log("error", "rollout failed", "err", err)
	return res, err
}

func (c *Controller) event(ctx context.Context, e event.Event) {
	if c.Events == nil {
		return
	}
	if err := c.Events.AppendEvent(ctx, e); err != nil {
		c.logger().Log("error", "writing event", "type", e.Type, "err", err)
	}
}

func (c *Controller) transition(res *Result, to State) {
	from := res.State
	res.State = to
	c.logger().Log("info", "rollout transition", "from", string(from), "to", string(to))
	if c.OnTransition != nil {
		c.OnTransition(from, to)
	}
}

func (c *Controller) resolvePolicy() retry.Policy {
	if c.ResolvePolicy.Attempts > 0 {
		return c.ResolvePolicy
	}
	return retry.Fixed(registry.DefaultResolveAttempts, registry.DefaultResolveInterval)
}

func (c *Controller) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

func (c *Controller) stabilizeCeiling() time.Duration {
	if c.StabilizeCeiling > 0 {
		return c.StabilizeCeiling
	}
	return DefaultStabilizeCeiling
}

func (c *Controller) clock() clockwork.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clockwork.NewRealClock()
}

func (c *Controller) logger() log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.NewNopLogger()
}
