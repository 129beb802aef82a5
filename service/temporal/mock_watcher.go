package temporal

import (
	"context"
	"sync"
)

// MockWatcher is a mock implementation of Watcher for testing.
type MockWatcher struct {
	mu       sync.Mutex
	watches  map[string]WatchSignatureInput // map[workflowID]input
	startErr error
}

// NewMockWatcher creates a new MockWatcher.
func NewMockWatcher() *MockWatcher {
	return &MockWatcher{
		watches: make(map[string]WatchSignatureInput),
	}
}

// StartWatch records that a watch was started.
func (m *MockWatcher) StartWatch(ctx context.Context, input WatchSignatureInput) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := watchWorkflowID(input.Signature)
	m.watches[id] = input
	return id, nil
}

// SetStartError configures StartWatch to fail.
func (m *MockWatcher) SetStartError(err error) {
	m.startErr = err
}

// Watch returns the recorded input for a signature.
func (m *MockWatcher) Watch(signature string) (WatchSignatureInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	input, ok := m.watches[watchWorkflowID(signature)]
	return input, ok
}

// WatchCount returns how many watches were started.
func (m *MockWatcher) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}
