// Package rawxdecommission implements the "rawx-decommission" job type:
// move every chunk off one storage node. The lock key is derived from the
// target node, so two decommissions of the same node never run at once.
// The chunk-moving primitives belong to the surrounding storage cluster,
// so Task.Process here validates inputs and returns a synthetic result,
// exercising the fan-out/reduce path without a real cluster behind it.
package rawxdecommission

import (
	"context"
	"fmt"

	"github.com/xcute-engine/xcute/internal/xcute/module"
	"github.com/xcute-engine/xcute/internal/xcuteerr"
)

const ModuleType = "rawx-decommission"

const defaultFetchLimit = 100

type rawxDecommission struct {
	rawxID      string
	fetchLimit  int
	minChunkMB  int
	maxChunkMB  int
	totalChunks int

	movedMB int // running total rehydrated from persisted details
}

// Factory constructs the rawx-decommission module. Required option
// `rawx_id` (string); optional `rdir_fetch_limit` (int, default 100),
// `min_chunk_size_mb`/`max_chunk_size_mb` (bounds the synthetic chunk
// stream is generated within), `total_chunks` (int, default 250 — stands
// in for however many chunks rdir would actually report for rawxID).
func Factory(options map[string]any, details map[string]any) (module.Module, error) {
	rawxID, _ := options["rawx_id"].(string)
	if rawxID == "" {
		return nil, xcuteerr.NewBadOptions("rawx_id is required")
	}

	fetchLimit := defaultFetchLimit
	if v, ok := asInt(options["rdir_fetch_limit"]); ok {
		fetchLimit = v
	}
	if fetchLimit <= 0 {
		return nil, xcuteerr.NewBadOptions("rdir_fetch_limit must be positive")
	}

	minMB, _ := asInt(options["min_chunk_size_mb"])
	maxMB, _ := asInt(options["max_chunk_size_mb"])
	if maxMB > 0 && minMB > maxMB {
		return nil, xcuteerr.NewBadOptions("min_chunk_size_mb must not exceed max_chunk_size_mb")
	}

	total := 250
	if v, ok := asInt(options["total_chunks"]); ok {
		total = v
	}
	if total <= 0 {
		return nil, xcuteerr.NewBadOptions("total_chunks must be positive")
	}

	moved := 0
	if v, ok := asInt(details["total_moved_bytes_mb"]); ok {
		moved = v
	}

	return &rawxDecommission{
		rawxID:      rawxID,
		fetchLimit:  fetchLimit,
		minChunkMB:  minMB,
		maxChunkMB:  maxMB,
		totalChunks: total,
		movedMB:     moved,
	}, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Lock keys on rawx_id so at most one decommission job per storage node
// may run at a time.
func (m *rawxDecommission) Lock() string { return "rawx-decommission:" + m.rawxID }

func (m *rawxDecommission) Tasks(lastItem string) (module.Stream, error) {
	start := 0
	if lastItem != "" {
		idx, err := chunkIndex(lastItem)
		if err != nil {
			return nil, fmt.Errorf("rawx-decommission: unknown resume cursor %q: %w", lastItem, err)
		}
		start = idx + 1
	}
	return &stream{
		rawxID:     m.rawxID,
		fetchLimit: m.fetchLimit,
		total:      m.totalChunks,
		minMB:      m.minChunkMB,
		maxMB:      m.maxChunkMB,
		pos:        start,
	}, nil
}

func (m *rawxDecommission) ReduceResult(result any) (map[string]any, error) {
	if res, ok := result.(map[string]any); ok {
		if v, ok := asInt(res["moved_bytes_mb"]); ok {
			m.movedMB += v
		}
	}
	return map[string]any{"total_moved_bytes_mb": m.movedMB}, nil
}

func (m *rawxDecommission) ReduceError(*module.TaskError) (map[string]any, error) { return nil, nil }

// stream yields a synthetic chunk list one item per Next call, standing in
// for an rdir chunk fetch. It does not page: rdir_fetch_limit is only
// forwarded to each task as the page_limit kwarg.
type stream struct {
	rawxID     string
	fetchLimit int
	total      int
	minMB      int
	maxMB      int
	pos        int
}

func chunkItem(rawxID string, idx int) string {
	return fmt.Sprintf("%s/chunk-%06d", rawxID, idx)
}

func chunkIndex(item string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(lastSegment(item), "chunk-%06d", &idx); err != nil {
		return 0, err
	}
	return idx, nil
}

func lastSegment(item string) string {
	for i := len(item) - 1; i >= 0; i-- {
		if item[i] == '/' {
			return item[i+1:]
		}
	}
	return item
}

func (s *stream) Next(ctx context.Context) (module.TaskDescriptor, bool, error) {
	select {
	case <-ctx.Done():
		return module.TaskDescriptor{}, false, ctx.Err()
	default:
	}
	if s.pos >= s.total {
		return module.TaskDescriptor{}, false, nil
	}
	item := chunkItem(s.rawxID, s.pos)
	s.pos++
	return module.TaskDescriptor{
		TaskClass: TaskClass,
		Item:      item,
		Kwargs: map[string]any{
			"rawx_id":    s.rawxID,
			"min_mb":     s.minMB,
			"max_mb":     s.maxMB,
			"page_limit": s.fetchLimit,
		},
	}, true, nil
}

// TaskClass is the wire tag a worker's TaskRegistry must map to TaskFactory.
const TaskClass = "rawxdecommission.MoveChunkTask"

// Task is the worker-side executor for a single chunk move. Process
// validates the item shape and returns a synthetic moved-bytes result in
// place of a call into the cluster's rdir/rawx clients.
type Task struct{}

func TaskFactory(map[string]any) (module.Task, error) { return Task{}, nil }

func (Task) Process(ctx context.Context, item string, kwargs map[string]any, reqid string) (any, error) {
	rawxID, _ := kwargs["rawx_id"].(string)
	if rawxID == "" {
		return nil, &module.TaskError{ClassName: "BadRequest", Message: "rawx-decommission: missing rawx_id in kwargs"}
	}
	if item == "" {
		return nil, &module.TaskError{ClassName: "BadRequest", Message: "rawx-decommission: missing chunk item"}
	}
	minMB, _ := asInt(kwargs["min_mb"])
	maxMB, _ := asInt(kwargs["max_mb"])
	size := minMB
	if maxMB > size {
		size = maxMB
	}
	if size <= 0 {
		size = 1
	}
	return map[string]any{
		"chunk":          item,
		"moved_bytes_mb": size,
		"reqid":          reqid,
	}, nil
}
