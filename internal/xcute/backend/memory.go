package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
	"github.com/xcute-engine/xcute/internal/xcuteerr"
)

// MemoryBackend is an in-process Backend used by tests that exercise the
// job/orchestrator packages without a Redis instance. It enforces the same
// state-machine and locking invariants as RedisBackend, just with a mutex
// instead of Lua.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*xctypes.Job
	locks   map[string]string // lock key -> job id
	order   []string          // ids in creation/id order
}

func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		records: map[string]*xctypes.Job{},
		locks:   map[string]string{},
	}
}

func (m *MemoryBackend) Create(_ context.Context, record *xctypes.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrConflict, record.ID)
	}
	m.records[record.ID] = record.Clone()
	m.order = append(m.order, record.ID)
	sort.Strings(m.order)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, id string) (*xctypes.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (m *MemoryBackend) List(_ context.Context, limit int, marker string) ([]*xctypes.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 1000
	}
	out := make([]*xctypes.Job, 0, limit)
	for _, id := range m.order {
		if marker != "" && id <= marker {
			continue
		}
		out = append(out, m.records[id].Clone())
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryBackend) ListWaiting(ctx context.Context) ([]*xctypes.Job, error) {
	return m.listByStatus(xctypes.StatusWaiting)
}

func (m *MemoryBackend) listByStatus(status xctypes.Status) ([]*xctypes.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*xctypes.Job, 0)
	for _, id := range m.order {
		rec := m.records[id]
		if rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *MemoryBackend) ListOrchestrator(_ context.Context, oid string) ([]*xctypes.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*xctypes.Job, 0)
	for _, id := range m.order {
		rec := m.records[id]
		if rec.OrchestratorID == oid {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *MemoryBackend) Update(_ context.Context, id string, delta job.Delta) (xctypes.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return "", fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	if delta.Sending != nil {
		rec.Sending = *delta.Sending
	}
	if delta.ItemsSent != nil {
		rec.Items.Sent = *delta.ItemsSent
	}
	if delta.ItemsLastSent != nil {
		rec.Items.LastSent = *delta.ItemsLastSent
	}
	if delta.ItemsExpected != nil {
		v := *delta.ItemsExpected
		rec.Items.Expected = &v
	}
	if delta.ItemsProcessed != nil {
		rec.Items.Processed = *delta.ItemsProcessed
	}
	if delta.ErrorsTotalInc != 0 {
		rec.Errors.Total += delta.ErrorsTotalInc
	}
	if rec.Errors.Details == nil {
		rec.Errors.Details = map[string]int{}
	}
	for class, inc := range delta.ErrorsInc {
		rec.Errors.Details[class] += inc
	}
	if rec.Details == nil {
		rec.Details = map[string]any{}
	}
	for k, v := range delta.DetailsMerge {
		rec.Details[k] = v
	}
	rec.MTime = time.Now().Unix()
	return rec.Status, nil
}

func (m *MemoryBackend) Claim(_ context.Context, oid string) (*xctypes.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		rec := m.records[id]
		if rec.Status != xctypes.StatusWaiting {
			continue
		}
		if rec.Lock != "" {
			if _, held := m.locks[rec.Lock]; held {
				continue
			}
		}
		rec.Status = xctypes.StatusRunning
		rec.OrchestratorID = oid
		rec.MTime = time.Now().Unix()
		if rec.Lock != "" {
			m.locks[rec.Lock] = id
		}
		return rec.Clone(), nil
	}
	return nil, nil
}

func (m *MemoryBackend) Pause(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	if rec.Status != xctypes.StatusRunning {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrBadState, id)
	}
	if rec.Lock != "" && m.locks[rec.Lock] == id {
		delete(m.locks, rec.Lock)
	}
	rec.Status = xctypes.StatusPaused
	rec.MTime = time.Now().Unix()
	return nil
}

func (m *MemoryBackend) Resume(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	if rec.Status != xctypes.StatusPaused {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrBadState, id)
	}
	rec.Status = xctypes.StatusWaiting
	rec.OrchestratorID = ""
	rec.MTime = time.Now().Unix()
	return nil
}

func (m *MemoryBackend) Finish(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	if rec.Status != xctypes.StatusRunning {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrBadState, id)
	}
	if rec.Lock != "" && m.locks[rec.Lock] == id {
		delete(m.locks, rec.Lock)
	}
	rec.OrchestratorID = ""
	rec.Status = xctypes.StatusFinished
	rec.MTime = time.Now().Unix()
	return nil
}

func (m *MemoryBackend) Fail(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	if rec.Status != xctypes.StatusRunning && rec.Status != xctypes.StatusWaiting {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrBadState, id)
	}
	if rec.Lock != "" && m.locks[rec.Lock] == id {
		delete(m.locks, rec.Lock)
	}
	rec.OrchestratorID = ""
	rec.Status = xctypes.StatusFailed
	if reason != "" {
		if rec.Details == nil {
			rec.Details = map[string]any{}
		}
		rec.Details["error"] = reason
	}
	rec.MTime = time.Now().Unix()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	if rec.Status == xctypes.StatusRunning {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrBadState, id)
	}
	if rec.Lock != "" && m.locks[rec.Lock] == id {
		delete(m.locks, rec.Lock)
	}
	delete(m.records, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryBackend) Locks(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.locks))
	for k, v := range m.locks {
		out[k] = v
	}
	return out, nil
}
