package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/backend"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/module"
	"github.com/xcute-engine/xcute/internal/xcute/modules/tester"
	"github.com/xcute-engine/xcute/internal/xcute/worker"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
)

// TestHappyPathEndToEnd runs a tester job with no injected errors to
// completion through a real Engine + worker Runtime pair wired over an
// in-memory bus and backend.
func TestHappyPathEndToEnd(t *testing.T) {
	log := logger.NewNop()
	back := backend.NewMemory()
	b := bus.NewMemory()

	registry := module.NewRegistry()
	if err := registry.Register(tester.ModuleType, tester.Factory); err != nil {
		t.Fatalf("register module: %v", err)
	}
	taskRegistry := worker.NewTaskRegistry()
	if err := taskRegistry.Register(tester.TaskClass, tester.TaskFactory); err != nil {
		t.Fatalf("register task: %v", err)
	}

	j, err := job.Create(tester.ModuleType, 1000, map[string]any{"error_percentage": 0}, tester.Factory)
	if err != nil {
		t.Fatalf("job.Create: %v", err)
	}
	if err := back.Create(context.Background(), j.Record); err != nil {
		t.Fatalf("backend.Create: %v", err)
	}

	engine := New(Config{
		OrchestratorID:    "orch-test",
		ReplyAddr:         "orch-test",
		ReplyTube:         "reply",
		WorkersTube:       "workers",
		DiscoveryInterval: 20 * time.Millisecond,
		ClaimInterval:     20 * time.Millisecond,
		ReplyTimeout:      50 * time.Millisecond,
	}, back, b, registry, log)

	runtime, err := worker.NewRuntime(worker.Config{
		Addr:         "worker-1",
		WorkersTube:  "workers",
		Concurrency:  4,
		ReserveDelay: 50 * time.Millisecond,
	}, b, taskRegistry, log)
	if err != nil {
		t.Fatalf("worker.NewRuntime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Advertise the worker's tube up front so the engine's first discovery
	// poll already sees it, rather than racing the worker runtime's own
	// advertise call against discovery's 20ms ticker.
	if err := b.Advertise(ctx, "worker-1", "workers"); err != nil {
		t.Fatalf("advertise: %v", err)
	}

	go engine.Run(ctx)
	go runtime.Run(ctx)

	deadline := time.Now().Add(9 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := back.Get(context.Background(), j.Record.ID)
		if err != nil {
			t.Fatalf("backend.Get: %v", err)
		}
		if rec.Status == "FINISHED" {
			if rec.Items.Sent != 1000 || rec.Items.Processed != 1000 {
				t.Fatalf("expected sent=processed=1000, got sent=%d processed=%d", rec.Items.Sent, rec.Items.Processed)
			}
			if rec.Errors.Total != 0 {
				t.Fatalf("expected zero errors, got %d", rec.Errors.Total)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job did not reach FINISHED within deadline")
}

// TestPauseStopsDispatchAndResumeContinues drives a slow tester job into
// RUNNING, pauses it through the backend, verifies dispatch stops, then
// resumes it and verifies the engine re-claims and keeps sending.
func TestPauseStopsDispatchAndResumeContinues(t *testing.T) {
	log := logger.NewNop()
	back := backend.NewMemory()
	b := bus.NewMemory()

	registry := module.NewRegistry()
	if err := registry.Register(tester.ModuleType, tester.Factory); err != nil {
		t.Fatalf("register module: %v", err)
	}
	taskRegistry := worker.NewTaskRegistry()
	if err := taskRegistry.Register(tester.TaskClass, tester.TaskFactory); err != nil {
		t.Fatalf("register task: %v", err)
	}

	j, err := job.Create(tester.ModuleType, 100, map[string]any{"error_percentage": 0}, tester.Factory)
	if err != nil {
		t.Fatalf("job.Create: %v", err)
	}
	if err := back.Create(context.Background(), j.Record); err != nil {
		t.Fatalf("backend.Create: %v", err)
	}

	engine := New(Config{
		OrchestratorID:    "orch-pause",
		ReplyAddr:         "orch-pause",
		ReplyTube:         "reply",
		WorkersTube:       "workers",
		DiscoveryInterval: 20 * time.Millisecond,
		ClaimInterval:     20 * time.Millisecond,
		ReplyTimeout:      50 * time.Millisecond,
	}, back, b, registry, log)

	runtime, err := worker.NewRuntime(worker.Config{
		Addr:         "worker-1",
		WorkersTube:  "workers",
		Concurrency:  4,
		ReserveDelay: 50 * time.Millisecond,
	}, b, taskRegistry, log)
	if err != nil {
		t.Fatalf("worker.NewRuntime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.Advertise(ctx, "worker-1", "workers"); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	go engine.Run(ctx)
	go runtime.Run(ctx)

	waitFor := func(what string, cond func(*xctypes.Job) bool) *xctypes.Job {
		t.Helper()
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			rec, err := back.Get(context.Background(), j.Record.ID)
			if err != nil {
				t.Fatalf("backend.Get: %v", err)
			}
			if cond(rec) {
				return rec
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}

	waitFor("some items sent", func(rec *xctypes.Job) bool {
		return rec.Status == xctypes.StatusRunning && rec.Items.Sent >= 5
	})

	if err := back.Pause(context.Background(), j.Record.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Dispatch notices the pause on its next write-through; wait for the
	// sent counter to hold still.
	var settled int
	prev := -1
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && settled < 3 {
		rec, err := back.Get(context.Background(), j.Record.ID)
		if err != nil {
			t.Fatalf("backend.Get: %v", err)
		}
		if rec.Status != xctypes.StatusPaused {
			t.Fatalf("status after pause: got %q", rec.Status)
		}
		if rec.Items.Sent == prev {
			settled++
		} else {
			settled = 0
			prev = rec.Items.Sent
		}
		time.Sleep(100 * time.Millisecond)
	}
	if settled < 3 {
		t.Fatal("dispatch did not stop after pause")
	}
	pausedSent := prev

	if err := back.Resume(context.Background(), j.Record.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	waitFor("dispatch to continue after resume", func(rec *xctypes.Job) bool {
		return rec.Status == xctypes.StatusRunning && rec.Items.Sent > pausedSent
	})
}
