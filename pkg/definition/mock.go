package definition

import "context"

// MockStore is a Store implemented by function fields, for tests.
type MockStore struct {
	CurrentFunc  func(ctx context.Context, family string) (Definition, error)
	RegisterFunc func(ctx context.Context, draft Draft) (Definition, error)
}

var _ Store = &MockStore{}

func (m *MockStore) Current(ctx context.Context, family string) (Definition, error) {
	return m.CurrentFunc(ctx, family)
}

func (m *MockStore) Register(ctx context.Context, draft Draft) (Definition, error) {
	return m.RegisterFunc(ctx, draft)
}
