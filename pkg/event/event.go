// Package event describes the entries of an environment's rollout
// history. The history is append-only: a rollout writes an event for
// each transition it goes through, and nothing ever rewrites one.
package event

import (
	"context"
	"fmt"
	"time"
)

// These are all the types of events.
const (
	EventRolloutStarted     = "rollout_started"
	EventArtifactPublished  = "artifact_published"
	EventDigestResolved     = "digest_resolved"
	EventRevisionRegistered = "revision_registered"
	EventServiceUpdated     = "service_updated"
	EventRolloutStable      = "rollout_stable"
	EventRolloutFailed      = "rollout_failed"
	EventRolloutTimedOut    = "rollout_timed_out"
	EventLockForced         = "lock_forced"
)

type Event struct {
	// ID is a GUID for this event. Will be auto-set when saving if blank.
	ID string `json:"id"`

	// Type is one of the Event... constants above.
	Type string `json:"type"`

	// Time is when the event happened.
	Time time.Time `json:"time"`

	// Environment the event belongs to. Redundant with the partition
	// the event is stored in, but kept on the record so an entry read
	// in isolation still says where it came from.
	Environment string `json:"environment"`

	// Service is the cluster/service the event concerns, if any.
	Service string `json:"service,omitempty"`

	// Revision is the definition revision involved, if any.
	Revision string `json:"revision,omitempty"`

	// Image is the pinned image involved, if any.
	Image string `json:"image,omitempty"`

	// Message carries detail for failures and forced unlocks.
	Message string `json:"message,omitempty"`
}

// Writer records events in a history.
type Writer interface {
	AppendEvent(ctx context.Context, e Event) error
}

func (e Event) String() string {
	switch e.Type {
	case EventRolloutStarted:
		return fmt.Sprintf("Rollout started: %s to %s", e.Image, e.Service)
	case EventArtifactPublished:
		return fmt.Sprintf("Published: %s", e.Image)
	case EventDigestResolved:
		return fmt.Sprintf("Resolved: %s", e.Image)
	case EventRevisionRegistered:
		return fmt.Sprintf("Registered: revision %s pinning %s", e.Revision, e.Image)
	case EventServiceUpdated:
		return fmt.Sprintf("Updated: %s to revision %s", e.Service, e.Revision)
	case EventRolloutStable:
		return fmt.Sprintf("Stable: %s at revision %s", e.Service, e.Revision)
	case EventRolloutFailed:
		return fmt.Sprintf("Failed: %s: %s", e.Service, e.Message)
	case EventRolloutTimedOut:
		return fmt.Sprintf("Timed out: %s waiting on revision %s", e.Service, e.Revision)
	case EventLockForced:
		return fmt.Sprintf("Lock forced: %s", e.Message)
	default:
		if e.Message != "" {
			return e.Message
		}
		return "Unknown event"
	}
}
