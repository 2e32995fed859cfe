// Package cluster is the interface to the orchestration service
// running the workloads. The rollout controller only ever needs two
// things from it: point a service at a new definition revision, and
// say how the service is doing.
package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidServiceID = errors.New("invalid service ID")

// ServiceID identifies a service within a cluster, serialized as
// "cluster/service".
type ServiceID struct {
	Cluster string
	Service string
}

func (id ServiceID) String() string {
	return id.Cluster + "/" + id.Service
}

// ParseServiceID parses a "cluster/service" pair.
func ParseServiceID(s string) (ServiceID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ServiceID{}, errors.Wrapf(ErrInvalidServiceID, "expected <cluster>/<service>, got %q", s)
	}
	return ServiceID{Cluster: parts[0], Service: parts[1]}, nil
}

// MakeServiceID is for literals in tests and wiring code.
func MakeServiceID(cluster, service string) ServiceID {
	return ServiceID{Cluster: cluster, Service: service}
}

// UnknownServiceError means the cluster has no such service (or no
// such cluster).
type UnknownServiceError struct {
	ID ServiceID
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("no service %s in the cluster", e.ID)
}

// ServiceStatus is a point-in-time view of a service, as the
// orchestration service reports it.
type ServiceStatus struct {
	// PrimaryRevision is the definition revision ID of the service's
	// primary deployment: the one the service is converging on.
	PrimaryRevision string
	// RunningCount and DesiredCount are the primary deployment's
	// placement counts.
	RunningCount int64
	DesiredCount int64
	// Deployments counts the service's deployment entries; a settled
	// service has exactly one, while a rollout in progress also shows
	// the draining predecessors.
	Deployments int
	// Status is the platform's word for the service itself, e.g.
	// "ACTIVE".
	Status string
}

// Stable says whether the service has converged on the given revision:
// the primary deployment runs it at full strength, and no other
// deployment is still draining.
func (s ServiceStatus) Stable(revisionID string) bool {
	return s.PrimaryRevision == revisionID &&
		s.Deployments == 1 &&
		s.RunningCount >= s.DesiredCount
}

// Cluster is the orchestration service.
type Cluster interface {
	// UpdateService points the service's desired state at the given
	// definition revision. The platform acknowledges and converges
	// asynchronously; watch ServiceStatus for progress.
	UpdateService(ctx context.Context, id ServiceID, revisionID string) error
	// ServiceStatus reports the service's current state.
	ServiceStatus(ctx context.Context, id ServiceID) (ServiceStatus, error)
}
