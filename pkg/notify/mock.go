package notify

import "context"

// MockNotifier records the notes it is given, for tests.
type MockNotifier struct {
	Notes []Note
	Err   error
}

var _ Notifier = &MockNotifier{}

func (m *MockNotifier) Notify(_ context.Context, note Note) error {
	m.Notes = append(m.Notes, note)
	return m.Err
}
