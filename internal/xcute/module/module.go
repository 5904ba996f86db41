// Package module defines the pluggable job-type contract: a named factory
// that, given options and previously persisted details, yields a
// resumable item stream and reducers for results/errors.
package module

import "context"

// TaskError is the wire shape of a worker-reported failure: the reducer
// only needs the class name for histogramming, but message/retriable
// travel along for logs and future retry policy.
type TaskError struct {
	ClassName string `json:"class_name"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable,omitempty"`
}

func (e *TaskError) Error() string { return e.ClassName + ": " + e.Message }

// Task is a stateless descriptor whose Process either returns a result or
// a typed error. Implementations must be side-effect-idempotent: the engine
// is at-least-once.
type Task interface {
	// Process executes the task against a single item. reqid is a
	// per-dispatch correlation id derived from the job id, useful for
	// tracing into whatever external system the task calls.
	Process(ctx context.Context, item string, kwargs map[string]any, reqid string) (result any, err error)
}

// TaskDescriptor is the lazy-stream element a Module yields: a stable
// string tag identifying the task class (looked up in a worker-side
// registry), the item key, and task-specific kwargs.
type TaskDescriptor struct {
	TaskClass string
	Item      string
	Kwargs    map[string]any
}

// Stream is a resumable, lazy sequence of task descriptors. Next returns
// (descriptor, true, nil) for each item, (zero, false, nil) at the end of
// the stream, or a non-nil error if iteration cannot continue
//. Implementations must not hold state that
// cannot be reconstructed from the cursor passed to Module.Tasks: the
// cursor is the only thing that survives an orchestrator restart.
type Stream interface {
	Next(ctx context.Context) (TaskDescriptor, bool, error)
}

// Module is one running instance of a job type, constructed from the job's
// persisted options and details.
type Module interface {
	// Lock returns the advisory exclusion key this job holds while RUNNING,
	// or "" if the job type never conflicts with itself.
	Lock() string

	// Tasks returns a stream that yields only items strictly after lastItem
	// in the module's deterministic order.
	Tasks(lastItem string) (Stream, error)

	// ReduceResult folds a successful task result into a details delta to
	// be merged into the job record. Must be commutative: replies can
	// arrive in any order.
	ReduceResult(result any) (map[string]any, error)

	// ReduceError folds a task failure into a details delta. The job object
	// always increments errors.total and errors[class_name] itself; the map
	// returned here is merged into details and never into the errors
	// counters. Most modules return (nil, nil).
	ReduceError(exc *TaskError) (map[string]any, error)
}

// Factory constructs a Module instance from job options and previously
// persisted details (empty on first run), validating options eagerly and
// failing with a BadOptions-class error (see internal/xcuteerr) on
// malformed configuration.
type Factory func(options map[string]any, details map[string]any) (Module, error)
