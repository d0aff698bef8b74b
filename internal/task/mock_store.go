package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/memory"
	"github.com/phrazzld/tasktrack/internal/store"
)

// MockTaskStore is a store.TaskStore for testing. It delegates to an
// in-memory store unless the matching Fn field is set, and records every
// update it receives.
type MockTaskStore struct {
	*memory.TaskStore

	mutex   sync.Mutex
	updates []store.TaskUpdate

	GetFn    func(ctx context.Context, id int64) (*domain.Task, error)
	UpdateFn func(ctx context.Context, id int64, update store.TaskUpdate) (*domain.Task, error)
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates a new MockTaskStore with default implementations
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{TaskStore: memory.NewTaskStore()}
}

// Get overrides the embedded store when GetFn is set.
func (m *MockTaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return m.TaskStore.Get(ctx, id)
}

// Update records the update, then delegates to UpdateFn or the embedded store.
func (m *MockTaskStore) Update(ctx context.Context, id int64, update store.TaskUpdate) (*domain.Task, error) {
	m.mutex.Lock()
	m.updates = append(m.updates, update)
	m.mutex.Unlock()

	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, id, update)
	}
	return m.TaskStore.Update(ctx, id, update)
}

// Updates returns a copy of every update received so far.
func (m *MockTaskStore) Updates() []store.TaskUpdate {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]store.TaskUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// CreatePending inserts a PENDING task and returns it.
func (m *MockTaskStore) CreatePending(ctx context.Context, title string) (*domain.Task, error) {
	return m.TaskStore.Create(ctx, uuid.New(), title, "")
}

// WaitForStatus polls until the task reaches status or timeout elapses.
func (m *MockTaskStore) WaitForStatus(ctx context.Context, id int64, status domain.TaskStatus, timeout time.Duration) (*domain.Task, bool) {
	deadline := time.Now().Add(timeout)
	for {
		t, err := m.TaskStore.Get(ctx, id)
		if err == nil && t.Status == status {
			return t, true
		}
		if time.Now().After(deadline) {
			return t, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
