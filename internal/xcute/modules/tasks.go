package modules

import (
	"github.com/xcute-engine/xcute/internal/xcute/modules/rawxdecommission"
	"github.com/xcute-engine/xcute/internal/xcute/modules/tester"
	"github.com/xcute-engine/xcute/internal/xcute/worker"
)

// NewTaskRegistry builds the worker-side counterpart of NewRegistry: every
// built-in task class mapped to its Task constructor, looked up by stable
// string tag.
func NewTaskRegistry() (*worker.TaskRegistry, error) {
	r := worker.NewTaskRegistry()
	if err := r.Register(tester.TaskClass, tester.TaskFactory); err != nil {
		return nil, err
	}
	if err := r.Register(rawxdecommission.TaskClass, rawxdecommission.TaskFactory); err != nil {
		return nil, err
	}
	return r, nil
}
