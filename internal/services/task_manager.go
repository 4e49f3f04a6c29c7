package services

import (
	"context"
	"delivery-navigation-service/internal/ports"
	"errors"
	"fmt"
	"sync"
)

// TaskManager is the process-wide registry of background task bodies, keyed
// by task name. Tasks are defined once at process start.
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

// TaskFunc is the body of a background task.
type TaskFunc func(ctx context.Context, data ports.BackgroundTaskData) error

var ErrTaskNotDefined = errors.New("background task not defined")

func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: make(map[string]TaskFunc)}
}

func (m *TaskManager) DefineTask(name string, fn TaskFunc) error {
	if name == "" || fn == nil {
		return errors.New("define task: name and body are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[name]; ok {
		return fmt.Errorf("define task: %q already defined", name)
	}
	m.tasks[name] = fn
	return nil
}

func (m *TaskManager) IsDefined(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[name]
	return ok
}

// Dispatch runs the named task with the delivered batch.
func (m *TaskManager) Dispatch(ctx context.Context, name string, data ports.BackgroundTaskData) error {
	m.mu.RLock()
	fn, ok := m.tasks[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("dispatch %q: %w", name, ErrTaskNotDefined)
	}
	return fn(ctx, data)
}
