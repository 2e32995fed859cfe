package artifact

import (
	"context"

	"github.com/moorcd/moor/pkg/image"
)

// MockBuilder implements Builder with function fields, for tests.
type MockBuilder struct {
	BuildFunc func(ctx context.Context, ref image.Ref) error
	PushFunc  func(ctx context.Context, ref image.Ref) error
}

var _ Builder = &MockBuilder{}

func (m *MockBuilder) Build(ctx context.Context, ref image.Ref) error {
	return m.BuildFunc(ctx, ref)
}

func (m *MockBuilder) Push(ctx context.Context, ref image.Ref) error {
	return m.PushFunc(ctx, ref)
}
