package task

import (
	"context"
	"sync"

	"github.com/phrazzld/tasktrack/internal/domain"
)

// MockWork is a scripted Work for testing. Each call consumes the next
// error from Errors; once the script is exhausted every call succeeds.
type MockWork struct {
	mutex  sync.Mutex
	Errors []error
	calls  []int64

	// RunFn, when set, runs after the scripted error is chosen and can
	// replace it.
	RunFn func(ctx context.Context, task *domain.Task, scripted error) error
}

var _ Work = (*MockWork)(nil)

// NewMockWork creates a MockWork that fails with errs in order.
func NewMockWork(errs ...error) *MockWork {
	return &MockWork{Errors: errs}
}

// Run implements Work.
func (w *MockWork) Run(ctx context.Context, task *domain.Task) error {
	w.mutex.Lock()
	var err error
	if n := len(w.calls); n < len(w.Errors) {
		err = w.Errors[n]
	}
	w.calls = append(w.calls, task.ID)
	fn := w.RunFn
	w.mutex.Unlock()

	if fn != nil {
		return fn(ctx, task, err)
	}
	return err
}

// Calls returns the number of executions so far.
func (w *MockWork) Calls() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.calls)
}
