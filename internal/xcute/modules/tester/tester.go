// Package tester implements the built-in "tester" job type: a fixed
// 1000-item deterministic stream with a configurable synthetic error rate,
// used to exercise the engine without any real storage backend.
package tester

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/xcute-engine/xcute/internal/xcute/module"
	"github.com/xcute-engine/xcute/internal/xcuteerr"
)

const ModuleType = "tester"

const itemCount = 1000

var items = func() []string {
	out := make([]string, itemCount)
	for i := range out {
		out[i] = fmt.Sprintf("myitem-%d", i)
	}
	return out
}()

// exceptionClasses is the fixed set an injected failure draws from, so
// error accounting has more than one class to histogram.
var exceptionClasses = []string{
	"BadRequest",
	"Forbidden",
	"NotFound",
	"MethodNotAllowed",
	"Conflict",
	"ClientPreconditionFailed",
	"TooLarge",
	"UnsatisfiableRange",
	"ServiceBusy",
}

type tester struct {
	lock            string
	errorPercentage int
}

// Factory constructs the tester module. Options: `lock` (optional string,
// exercises lock exclusion for testing), `error_percentage` (0-100,
// default 0).
func Factory(options map[string]any, _ map[string]any) (module.Module, error) {
	lock, _ := options["lock"].(string)

	pct := 0
	switch v := options["error_percentage"].(type) {
	case int:
		pct = v
	case float64:
		pct = int(v)
	case nil:
	default:
		return nil, xcuteerr.NewBadOptions("error_percentage must be numeric")
	}
	if pct < 0 || pct > 100 {
		return nil, xcuteerr.NewBadOptions("error_percentage must be between 0 and 100")
	}

	return &tester{lock: lock, errorPercentage: pct}, nil
}

func (t *tester) Lock() string { return t.lock }

func (t *tester) Tasks(lastItem string) (module.Stream, error) {
	start := 0
	if lastItem != "" {
		found := false
		for i, it := range items {
			if it == lastItem {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("tester: unknown resume cursor %q", lastItem)
		}
	}
	return &stream{items: items[start:], kwargs: map[string]any{
		"lock":             t.lock,
		"error_percentage": t.errorPercentage,
	}}, nil
}

func (t *tester) ReduceResult(any) (map[string]any, error) { return nil, nil }

func (t *tester) ReduceError(*module.TaskError) (map[string]any, error) { return nil, nil }

type stream struct {
	items  []string
	kwargs map[string]any
	pos    int
}

func (s *stream) Next(ctx context.Context) (module.TaskDescriptor, bool, error) {
	select {
	case <-ctx.Done():
		return module.TaskDescriptor{}, false, ctx.Err()
	default:
	}
	if s.pos >= len(s.items) {
		return module.TaskDescriptor{}, false, nil
	}
	item := s.items[s.pos]
	s.pos++
	return module.TaskDescriptor{TaskClass: TaskClass, Item: item, Kwargs: s.kwargs}, true, nil
}

// TaskClass is the wire tag a worker's TaskRegistry must map to TaskFactory.
const TaskClass = "tester.TesterTask"

// Task is the worker-side executor for tester tasks (registered by the
// worker runtime's TaskRegistry, not invoked directly by the orchestrator).
type Task struct{}

// TaskFactory constructs a Task for the tester job type; kwargs are the
// per-item arguments the module attached to the descriptor.
func TaskFactory(map[string]any) (module.Task, error) { return Task{}, nil }

func (Task) Process(ctx context.Context, item string, kwargs map[string]any, reqid string) (any, error) {
	pct := 0
	switch v := kwargs["error_percentage"].(type) {
	case int:
		pct = v
	case float64:
		pct = int(v)
	}
	if pct > 0 && rand.Intn(100) < pct {
		class := exceptionClasses[rand.Intn(len(exceptionClasses))]
		return nil, &module.TaskError{ClassName: class, Message: fmt.Sprintf("tester: synthetic failure for %s", item)}
	}
	return map[string]any{"item": item, "reqid": reqid}, nil
}
