package worker

import (
	"fmt"
	"sync"

	"github.com/xcute-engine/xcute/internal/xcute/module"
)

// TaskFactory builds a Task for one dispatched descriptor, given its
// kwargs. The wire format carries a stable string tag looked up here, so
// no serialized code ever crosses the bus.
type TaskFactory func(kwargs map[string]any) (module.Task, error)

// TaskRegistry maps the opaque TaskClass string carried on the bus to a
// constructor for the Task that handles it, mirroring
// internal/xcute/module.Registry's shape on the worker side.
type TaskRegistry struct {
	mu        sync.RWMutex
	factories map[string]TaskFactory
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{factories: map[string]TaskFactory{}}
}

func (r *TaskRegistry) Register(taskClass string, f TaskFactory) error {
	if taskClass == "" {
		return fmt.Errorf("worker: empty task class")
	}
	if f == nil {
		return fmt.Errorf("worker: nil task factory for %q", taskClass)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[taskClass]; exists {
		return fmt.Errorf("worker: task class %q already registered", taskClass)
	}
	r.factories[taskClass] = f
	return nil
}

func (r *TaskRegistry) TaskFor(taskClass string) (TaskFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[taskClass]
	if !ok {
		return nil, fmt.Errorf("worker: unknown task class %q", taskClass)
	}
	return f, nil
}
