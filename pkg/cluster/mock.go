package cluster

import "context"

// Mock implements Cluster with function fields, for tests.
type Mock struct {
	UpdateServiceFunc func(ctx context.Context, id ServiceID, revisionID string) error
	ServiceStatusFunc func(ctx context.Context, id ServiceID) (ServiceStatus, error)
}

var _ Cluster = &Mock{}

func (m *Mock) UpdateService(ctx context.Context, id ServiceID, revisionID string) error {
	return m.UpdateServiceFunc(ctx, id, revisionID)
}

func (m *Mock) ServiceStatus(ctx context.Context, id ServiceID) (ServiceStatus, error) {
	return m.ServiceStatusFunc(ctx, id)
}
