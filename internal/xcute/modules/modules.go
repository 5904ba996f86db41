// Package modules is the process-wide registration point: every
// compiled-in job type is wired into a module.Registry here, once, so
// every binary (HTTP service, orchestrator, worker) sees the same closed
// set of job types.
package modules

import (
	"github.com/xcute-engine/xcute/internal/xcute/module"
	"github.com/xcute-engine/xcute/internal/xcute/modules/rawxdecommission"
	"github.com/xcute-engine/xcute/internal/xcute/modules/tester"
)

// NewRegistry builds and populates the module registry with every built-in
// job type. Registration failures here are a startup-time programming
// error (duplicate type), so callers should treat a non-nil error as fatal.
func NewRegistry() (*module.Registry, error) {
	r := module.NewRegistry()
	if err := r.Register(tester.ModuleType, tester.Factory); err != nil {
		return nil, err
	}
	if err := r.Register(rawxdecommission.ModuleType, rawxdecommission.Factory); err != nil {
		return nil, err
	}
	return r, nil
}
