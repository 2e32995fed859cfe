// Package release runs one deployment end to end: make sure the
// environment's state exists and is locked, publish the artifact,
// drive the rollout, and record every step where the next operator
// will look for it.
package release

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/jonboulle/clockwork"

	"github.com/moorcd/moor/pkg/artifact"
	"github.com/moorcd/moor/pkg/cluster"
	"github.com/moorcd/moor/pkg/definition"
	"github.com/moorcd/moor/pkg/environment"
	"github.com/moorcd/moor/pkg/event"
	moormetrics "github.com/moorcd/moor/pkg/metrics"
	"github.com/moorcd/moor/pkg/notify"
	"github.com/moorcd/moor/pkg/registry"
	"github.com/moorcd/moor/pkg/retry"
	"github.com/moorcd/moor/pkg/rollout"
	"github.com/moorcd/moor/pkg/state"
)

// Spec names one deployment: which environment, which service, and
// which build of which source revision.
type Spec struct {
	Environment environment.Environment
	Service     cluster.ServiceID
	Family      string
	SourceRef   string
	BuildID     string
}

// Pipeline wires the collaborators of a release together. Cluster,
// Store, Resolver, Publisher, Backend and Notifier are required; the
// rest defaults sensibly from its zero value.
type Pipeline struct {
	Backend   *state.Backend
	Publisher *artifact.Publisher
	Cluster   cluster.Cluster
	Store     definition.Store
	Resolver  registry.Resolver
	Notifier  notify.Notifier

	// LockPolicy bounds how long a run waits for the environment
	// lock before giving up and naming the holder.
	LockPolicy retry.Policy
	// ResolvePolicy, PollInterval and StabilizeCeiling are handed to
	// the rollout controller.
	ResolvePolicy    retry.Policy
	PollInterval     time.Duration
	StabilizeCeiling time.Duration

	Clock  clockwork.Clock
	Logger log.Logger
}

// Release runs the pipeline to a terminal state. The returned record
// reflects what was written to the environment's partition; err is
// nil exactly when the service ended up Stable. Deployments of one
// environment are serialized by its lock, so a second run blocks (up
// to the lock policy) until the first finishes.
func (p *Pipeline) Release(ctx context.Context, spec Spec) (rec *state.ServiceDeployment, err error) {
	logger := log.With(p.logger(), "environment", spec.Environment.String(), "service", spec.Service.String())
	begin := time.Now()
	defer func() {
		outcome := "error"
		if rec != nil {
			outcome = string(rec.Status)
		}
		releaseDuration.With(
			moormetrics.LabelEnvironment, spec.Environment.String(),
			moormetrics.LabelOutcome, outcome,
		).Observe(time.Since(begin).Seconds())
	}()

	if err := p.Backend.Ensure(ctx); err != nil {
		return nil, err
	}
	part := p.Backend.Partition(spec.Environment)

	lock, err := part.Lock(ctx, state.NewLockInfo("deploy "+spec.Service.String()), p.lockPolicy())
	if err != nil {
		return nil, err
	}
	defer func() {
		// Unlock on a fresh context: a cancelled deploy must still
		// release the environment.
		if err := lock.Unlock(context.Background()); err != nil {
			logger.Log("error", "releasing environment lock", "err", err)
		}
	}()

	appendEvent := func(e event.Event) {
		if err := part.AppendEvent(ctx, e); err != nil {
			logger.Log("error", "writing event", "type", e.Type, "err", err)
		}
	}
	saveRecord := func() {
		rec.UpdatedAt = p.clock().Now().UTC()
		if err := part.PutDeployment(ctx, *rec); err != nil {
			logger.Log("error", "writing deployment record", "err", err)
		}
	}

	now := p.clock().Now().UTC()
	rec = &state.ServiceDeployment{
		Environment: spec.Environment.String(),
		Cluster:     spec.Service.Cluster,
		Service:     spec.Service.Service,
		Family:      spec.Family,
		Status:      state.StatusPending,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := part.PutDeployment(ctx, *rec); err != nil {
		return nil, err
	}
	appendEvent(event.Event{
		Type:    event.EventRolloutStarted,
		Service: spec.Service.String(),
		Image:   p.Publisher.Repository().String(),
	})

	publishTimer := NewStageTimer("publish")
	art, err := p.Publisher.Publish(ctx, spec.SourceRef, spec.BuildID)
	publishTimer.ObserveDuration()
	if err != nil {
		rec.Status = state.StatusFailed
		rec.Message = err.Error()
		rec.FinishedAt = p.clock().Now().UTC()
		saveRecord()
		appendEvent(event.Event{
			Type:    event.EventRolloutFailed,
			Service: spec.Service.String(),
			Message: err.Error(),
		})
		p.notify(ctx, logger, spec, string(rollout.StateFailed), "", "", err)
		return rec, err
	}
	rec.Artifact = art.String()
	rec.Status = state.StatusRollingOut
	saveRecord()
	appendEvent(event.Event{
		Type:    event.EventArtifactPublished,
		Service: spec.Service.String(),
		Image:   art.String(),
	})

	var stage *metrics.Timer
	ctrl := &rollout.Controller{
		Cluster:          p.Cluster,
		Store:            p.Store,
		Resolver:         p.Resolver,
		ResolvePolicy:    p.ResolvePolicy,
		PollInterval:     p.PollInterval,
		StabilizeCeiling: p.StabilizeCeiling,
		Clock:            p.Clock,
		Logger:           logger,
		Events:           part,
		OnTransition: func(from, to rollout.State) {
			if stage != nil {
				stage.ObserveDuration()
				stage = nil
			}
			if !to.Terminal() {
				stage = NewStageTimer(string(to))
			}
		},
	}
	res, runErr := ctrl.Run(ctx, rollout.Spec{
		Service:  spec.Service,
		Family:   spec.Family,
		Artifact: art,
	})

	rec.Status = statusFor(res.State)
	rec.Artifact = res.Artifact.String()
	rec.ObservedRevision = res.Status.PrimaryRevision
	if res.Definition.ID != "" {
		rec.DesiredRevision = res.Definition.ID
	}
	if runErr != nil {
		rec.Message = runErr.Error()
	}
	rec.FinishedAt = p.clock().Now().UTC()
	saveRecord()

	revision := ""
	if res.Definition.ID != "" {
		revision = res.Definition.String()
	}
	p.notify(ctx, logger, spec, string(res.State), revision, res.Artifact.String(), runErr)
	return rec, runErr
}

// notify delivers the terminal note. Failures are logged and
// swallowed; the rollout's outcome stands on its own.
func (p *Pipeline) notify(ctx context.Context, logger log.Logger, spec Spec, status, revision, artifactRef string, cause error) {
	note := notify.Note{
		Environment: spec.Environment.String(),
		Service:     spec.Service.String(),
		Status:      status,
		Revision:    revision,
		Artifact:    artifactRef,
	}
	if cause != nil {
		note.Error = cause.Error()
	}
	if err := p.Notifier.Notify(ctx, note); err != nil {
		logger.Log("error", "sending notification", "err", err)
	}
}

func statusFor(s rollout.State) state.Status {
	switch s {
	case rollout.StateStable:
		return state.StatusStable
	case rollout.StateTimedOut:
		return state.StatusTimedOut
	default:
		return state.StatusFailed
	}
}

func (p *Pipeline) lockPolicy() retry.Policy {
	if p.LockPolicy.Attempts > 0 {
		return p.LockPolicy
	}
	return state.DefaultLockPolicy
}

func (p *Pipeline) clock() clockwork.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clockwork.NewRealClock()
}

func (p *Pipeline) logger() log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.NewNopLogger()
}
