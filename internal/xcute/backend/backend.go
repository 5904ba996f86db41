// Package backend implements the engine's durable, multi-writer store:
// job records, the waiting queue, per-orchestrator assignment sets, and
// advisory locks, with one non-trivial atomic primitive (Claim).
package backend

import (
	"context"

	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
)

// Backend is the durable store shared by the HTTP control service and the
// orchestrator. Every method is safe for concurrent use by many processes.
type Backend interface {
	// Create inserts a new WAITING job record, indexing it into the
	// waiting set and the full job listing. Returns xcuteerr.ErrConflict
	// if the id already exists.
	Create(ctx context.Context, record *xctypes.Job) error

	// Get returns the record for id, or xcuteerr.ErrNotFound.
	Get(ctx context.Context, id string) (*xctypes.Job, error)

	// List returns up to limit records ordered by id, strictly after
	// marker.
	List(ctx context.Context, limit int, marker string) ([]*xctypes.Job, error)

	// ListWaiting returns every WAITING job, in id order.
	ListWaiting(ctx context.Context) ([]*xctypes.Job, error)

	// ListOrchestrator returns every job currently assigned to oid.
	ListOrchestrator(ctx context.Context, oid string) ([]*xctypes.Job, error)

	// Update deep-merges delta into the record identified by id, bumping
	// mtime. It never changes status, id, or index membership. The job's
	// current status is returned so a dispatch loop streaming against the
	// job notices an operator pause without a second read.
	Update(ctx context.Context, id string, delta job.Delta) (xctypes.Status, error)

	// Claim atomically pops the first WAITING job whose lock (if any) is
	// unheld, transitions it to RUNNING under oid, and returns it. It
	// returns (nil, nil) if nothing is claimable right now.
	Claim(ctx context.Context, oid string) (*xctypes.Job, error)

	// Pause transitions a RUNNING job to PAUSED and releases its lock.
	Pause(ctx context.Context, id string) error

	// Resume transitions a PAUSED job back to WAITING, clearing
	// orchestrator_id and re-adding it to the waiting set.
	Resume(ctx context.Context, id string) error

	// Finish transitions a RUNNING job to FINISHED, releasing its lock and
	// its orchestrator assignment.
	Finish(ctx context.Context, id string) error

	// Fail transitions a RUNNING or WAITING job to FAILED, releasing its
	// lock and orchestrator assignment.
	Fail(ctx context.Context, id string, reason string) error

	// Delete removes a job and every index entry referencing it. It is
	// forbidden while the job is RUNNING.
	Delete(ctx context.Context, id string) error

	// Locks returns the current lock-key -> holding-job-id mapping.
	Locks(ctx context.Context) (map[string]string, error)
}

var (
	_ Backend = (*RedisBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
)
