// Package notify tells humans where a rollout ended up. Delivery is
// best effort; a lost notification never changes the rollout's own
// outcome.
package notify

import "context"

// Note is what gets delivered on a terminal rollout state.
type Note struct {
	Environment string
	Service     string
	Status      string
	Revision    string
	Artifact    string
	Error       string
}

type Notifier interface {
	Notify(ctx context.Context, note Note) error
}

// NopNotifier discards notes, for when no hook is configured.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) Notify(context.Context, Note) error {
	return nil
}
