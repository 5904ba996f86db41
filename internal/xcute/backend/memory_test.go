package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
	"github.com/xcute-engine/xcute/internal/xcuteerr"
)

func newWaitingRecord(t *testing.T, id, lock string) *xctypes.Job {
	t.Helper()
	return &xctypes.Job{
		ID:      id,
		Type:    "tester",
		Status:  xctypes.StatusWaiting,
		Lock:    lock,
		Sending: true,
		Items:   xctypes.Items{MaxPerSecond: 30},
		Errors:  xctypes.Errors{Details: map[string]int{}},
		Options: map[string]any{},
		Details: map[string]any{},
	}
}

func TestMemoryBackendCreateGet(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	rec := newWaitingRecord(t, "20260101000000.000000-00000000001", "")

	if err := b.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Create(ctx, rec); !errors.Is(err, xcuteerr.ErrConflict) {
		t.Fatalf("Create duplicate: got %v, want ErrConflict", err)
	}

	got, err := b.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != xctypes.StatusWaiting {
		t.Fatalf("Get status: got %q", got.Status)
	}

	if _, err := b.Get(ctx, "missing"); !errors.Is(err, xcuteerr.ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}
}

func TestMemoryBackendClaimRespectsLock(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	a := newWaitingRecord(t, "20260101000000.000000-00000000001", "shared-lock")
	c := newWaitingRecord(t, "20260101000000.000000-00000000002", "shared-lock")
	if err := b.Create(ctx, a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := b.Create(ctx, c); err != nil {
		t.Fatalf("Create c: %v", err)
	}

	claimed, err := b.Claim(ctx, "orch-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed == nil || claimed.ID != a.ID {
		t.Fatalf("Claim: expected to claim %s first, got %+v", a.ID, claimed)
	}

	again, err := b.Claim(ctx, "orch-2")
	if err != nil {
		t.Fatalf("Claim (second): %v", err)
	}
	if again != nil {
		t.Fatalf("Claim: expected nil while lock %q held, got %+v", a.Lock, again)
	}

	if err := b.Finish(ctx, a.ID); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	released, err := b.Claim(ctx, "orch-2")
	if err != nil {
		t.Fatalf("Claim (after finish): %v", err)
	}
	if released == nil || released.ID != c.ID {
		t.Fatalf("Claim: expected %s claimable after lock release, got %+v", c.ID, released)
	}
}

func TestMemoryBackendPauseResume(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	rec := newWaitingRecord(t, "20260101000000.000000-00000000003", "")
	if err := b.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Pause(ctx, rec.ID); !errors.Is(err, xcuteerr.ErrBadState) {
		t.Fatalf("Pause on WAITING: got %v, want ErrBadState", err)
	}

	if _, err := b.Claim(ctx, "orch-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := b.Pause(ctx, rec.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, _ := b.Get(ctx, rec.ID)
	if got.Status != xctypes.StatusPaused {
		t.Fatalf("Pause: got status %q", got.Status)
	}
	if err := b.Resume(ctx, rec.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ = b.Get(ctx, rec.ID)
	if got.Status != xctypes.StatusWaiting || got.OrchestratorID != "" {
		t.Fatalf("Resume: got status=%q orchestrator=%q", got.Status, got.OrchestratorID)
	}
}

func TestMemoryBackendDeleteRefusesRunning(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	rec := newWaitingRecord(t, "20260101000000.000000-00000000004", "")
	if err := b.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Claim(ctx, "orch-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := b.Delete(ctx, rec.ID); !errors.Is(err, xcuteerr.ErrBadState) {
		t.Fatalf("Delete while RUNNING: got %v, want ErrBadState", err)
	}
	if err := b.Finish(ctx, rec.ID); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := b.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, rec.ID); !errors.Is(err, xcuteerr.ErrNotFound) {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}
}

func TestMemoryBackendUpdateMergesCounters(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	rec := newWaitingRecord(t, "20260101000000.000000-00000000005", "")
	if err := b.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sent := 3
	if _, err := b.Update(ctx, rec.ID, job.Delta{ItemsSent: &sent, ErrorsTotalInc: 1, ErrorsInc: map[string]int{"Boom": 1}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := b.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Items.Sent != 3 {
		t.Fatalf("Update: items.sent got %d, want 3", got.Items.Sent)
	}
	if got.Errors.Total != 1 || got.Errors.Details["Boom"] != 1 {
		t.Fatalf("Update: errors got %+v", got.Errors)
	}

	if _, err := b.Update(ctx, rec.ID, job.Delta{ErrorsTotalInc: 1, ErrorsInc: map[string]int{"Boom": 1}}); err != nil {
		t.Fatalf("Update (second): %v", err)
	}
	got, _ = b.Get(ctx, rec.ID)
	if got.Errors.Total != 2 || got.Errors.Details["Boom"] != 2 {
		t.Fatalf("Update: errors accumulated to %+v, want total=2 Boom=2", got.Errors)
	}
}

func TestMemoryBackendFailKeepsForeignLock(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	a := newWaitingRecord(t, "20260101000000.000000-00000000006", "shared-lock")
	c := newWaitingRecord(t, "20260101000000.000000-00000000007", "shared-lock")
	if err := b.Create(ctx, a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := b.Create(ctx, c); err != nil {
		t.Fatalf("Create c: %v", err)
	}
	if _, err := b.Claim(ctx, "orch-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Failing the still-waiting job must not release the lock the running
	// job holds.
	if err := b.Fail(ctx, c.ID, "operator gave up"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	locks, err := b.Locks(ctx)
	if err != nil {
		t.Fatalf("Locks: %v", err)
	}
	if locks["shared-lock"] != a.ID {
		t.Fatalf("Locks: got %+v, want shared-lock held by %s", locks, a.ID)
	}
}

func TestMemoryBackendPauseKeepsAssignment(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	rec := newWaitingRecord(t, "20260101000000.000000-00000000008", "pause-lock")
	if err := b.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Claim(ctx, "orch-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := b.Pause(ctx, rec.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	got, err := b.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OrchestratorID != "orch-1" {
		t.Fatalf("paused job lost its assignment: orchestrator_id=%q", got.OrchestratorID)
	}
	assigned, err := b.ListOrchestrator(ctx, "orch-1")
	if err != nil {
		t.Fatalf("ListOrchestrator: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != rec.ID {
		t.Fatalf("ListOrchestrator: got %d records, want the paused job", len(assigned))
	}

	locks, _ := b.Locks(ctx)
	if _, held := locks["pause-lock"]; held {
		t.Fatalf("paused job still holds its lock: %+v", locks)
	}
}

func TestMemoryBackendUpdateReportsStatus(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	rec := newWaitingRecord(t, "20260101000000.000000-00000000009", "")
	if err := b.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Claim(ctx, "orch-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	sent := 1
	status, err := b.Update(ctx, rec.ID, job.Delta{ItemsSent: &sent})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if status != xctypes.StatusRunning {
		t.Fatalf("Update status: got %q, want RUNNING", status)
	}

	if err := b.Pause(ctx, rec.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	sent = 2
	status, err = b.Update(ctx, rec.ID, job.Delta{ItemsSent: &sent})
	if err != nil {
		t.Fatalf("Update after pause: %v", err)
	}
	if status != xctypes.StatusPaused {
		t.Fatalf("Update status after pause: got %q, want PAUSED", status)
	}
}
