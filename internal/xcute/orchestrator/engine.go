// Package orchestrator implements the long-lived engine process that
// discovers workers, claims waiting jobs, dispatches rate-limited tasks,
// consumes replies, and keeps the backend in sync: three concurrent loops
// plus one dispatch task per running job.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/backend"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/module"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
)

// Config configures one Engine instance.
type Config struct {
	OrchestratorID    string
	ReplyAddr         string
	ReplyTube         string
	WorkersTube       string
	DiscoveryInterval time.Duration
	ClaimInterval     time.Duration
	ReplyTimeout      time.Duration
}

// Engine is one orchestrator process. It owns the worker-discovery loop,
// the claim loop, the reply loop, and the set of dispatch tasks for jobs
// currently RUNNING in this process.
type Engine struct {
	cfg      Config
	back     backend.Backend
	b        bus.Bus
	registry *module.Registry
	log      *logger.Logger

	discovery *discovery

	mu      sync.Mutex
	running map[string]*runningJob

	shutdown chan struct{}
	once     sync.Once
}

type runningJob struct {
	task   *dispatchTask
	cancel context.CancelFunc
}

func New(cfg Config, back backend.Backend, b bus.Bus, registry *module.Registry, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 5 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = time.Second
	}
	return &Engine{
		cfg:       cfg,
		back:      back,
		b:         b,
		registry:  registry,
		log:       log.With("component", "Engine", "orchestrator_id", cfg.OrchestratorID),
		discovery: newDiscovery(b, cfg.WorkersTube, cfg.DiscoveryInterval, log),
		running:   map[string]*runningJob{},
		shutdown:  make(chan struct{}),
	}
}

// Run blocks until ctx is canceled, running the discovery, claim, and
// reply loops concurrently plus one dispatch task per claimed job.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.b.Advertise(ctx, e.cfg.ReplyAddr, e.cfg.ReplyTube); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.discovery.run(ctx) }()
	go func() { defer wg.Done(); e.claimLoop(ctx) }()
	go func() { defer wg.Done(); e.replyLoop(ctx) }()

	go e.recoverRunningJobs(ctx)

	<-ctx.Done()
	e.Shutdown()
	wg.Wait()
	return nil
}

// Shutdown sets the cooperative running flag so dispatch/claim/reply loops
// drain at their next check point. Safe to call multiple times; only the
// first call has effect, matching "first signal sets the running flag
// false" (a second external signal is expected to hard-exit the process,
// which is outside this package's concern).
func (e *Engine) Shutdown() {
	e.once.Do(func() { close(e.shutdown) })
}

func (e *Engine) claimLoop(ctx context.Context) {
	e.claimOnce(ctx)

	ticker := time.NewTicker(e.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.claimOnce(ctx)
		}
	}
}

func (e *Engine) claimOnce(ctx context.Context) {
	for {
		record, err := e.back.Claim(ctx, e.cfg.OrchestratorID)
		if err != nil {
			e.log.Warn("claim failed", "error", err)
			return
		}
		if record == nil {
			return
		}
		e.startJob(ctx, record)
	}
}

// startJob loads record through its module factory and spawns a dispatch
// task for it, tracking it in the running map so the reply loop can route
// replies and Shutdown can cancel it.
func (e *Engine) startJob(ctx context.Context, record *xctypes.Job) {
	factory, err := e.registry.ModuleFor(record.Type)
	if err != nil {
		e.log.Error("startJob: unknown module type, failing job", "job_id", record.ID, "type", record.Type, "error", err)
		_ = e.back.Fail(ctx, record.ID, err.Error())
		return
	}
	j, err := job.Load(record, factory)
	if err != nil {
		e.log.Error("startJob: load failed, failing job", "job_id", record.ID, "error", err)
		_ = e.back.Fail(ctx, record.ID, err.Error())
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	replyAddr := bus.ReplyAddr{Addr: e.cfg.ReplyAddr, Tube: e.cfg.ReplyTube}
	task := newDispatchTask(j, e.back, e.b, e.discovery, replyAddr, e.log, e.shutdown)

	e.mu.Lock()
	if old, ok := e.running[record.ID]; ok {
		// A paused job reclaimed by this orchestrator after resume; the
		// stale entry's dispatch task has already returned.
		old.cancel()
	}
	e.running[record.ID] = &runningJob{task: task, cancel: cancel}
	e.mu.Unlock()

	go func() {
		defer cancel()
		switch task.run(jobCtx) {
		case dispatchFailed:
			e.removeRunning(record.ID)
		case dispatchExhausted:
			e.finishIfDone(ctx, record.ID, j)
		case dispatchStopped:
			// Shutdown or pause: the job stays in the running map so
			// outstanding replies keep counting; a resumed job is
			// re-claimed and replaces this entry.
		}
	}()
}

// finishIfDone marks the job FINISHED once its stream is exhausted and
// every sent item has been processed. A BadState error here means an
// operator paused the job after its last item went out; the finish will
// happen on the claim after resume.
func (e *Engine) finishIfDone(ctx context.Context, id string, j *job.Job) {
	if !j.Finished() {
		return
	}
	if err := e.back.Finish(ctx, id); err != nil {
		e.log.Error("finish failed", "job_id", id, "error", err)
		return
	}
	e.removeRunning(id)
}

func (e *Engine) recoverRunningJobs(ctx context.Context) {
	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		default:
		}
		if e.discovery.get().len() > 0 {
			break
		}
		time.Sleep(time.Second)
	}

	records, err := e.back.ListOrchestrator(ctx, e.cfg.OrchestratorID)
	if err != nil {
		e.log.Error("startup recovery: list_orchestrator failed", "error", err)
		return
	}
	for _, rec := range records {
		if rec.Status != xctypes.StatusRunning {
			// PAUSED jobs keep their assignment but must not dispatch.
			continue
		}
		e.log.Info("startup recovery: resuming job", "job_id", rec.ID, "last_sent", rec.Items.LastSent)
		e.startJob(ctx, rec)
	}
}

func (e *Engine) replyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		default:
		}

		raw, err := e.b.Reserve(ctx, e.cfg.ReplyAddr, e.cfg.ReplyTube, e.cfg.ReplyTimeout)
		if err == bus.ErrReserveTimeout {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn("reply reserve failed", "error", err)
			continue
		}
		e.handleReply(ctx, raw)
	}
}

func (e *Engine) handleReply(ctx context.Context, raw []byte) {
	var wire bus.Reply
	if err := json.Unmarshal(raw, &wire); err != nil {
		e.log.Warn("malformed reply, dropping", "error", err)
		return
	}

	e.mu.Lock()
	rj, ok := e.running[wire.JobID]
	e.mu.Unlock()
	if !ok {
		e.log.Warn("reply for unknown job, dropping", "job_id", wire.JobID)
		return
	}

	var exc *module.TaskError
	if len(wire.Exc) > 0 && string(wire.Exc) != "null" {
		exc = &module.TaskError{}
		if err := json.Unmarshal(wire.Exc, exc); err != nil {
			exc = &module.TaskError{ClassName: "MalformedReply", Message: err.Error()}
		}
	}
	var res any
	if len(wire.Res) > 0 && string(wire.Res) != "null" {
		_ = json.Unmarshal(wire.Res, &res)
	}

	j := rj.task.j
	delta := j.OnReply(job.WireReply{JobID: wire.JobID, Res: res, Exc: exc})
	if _, err := e.back.Update(ctx, wire.JobID, delta); err != nil {
		e.log.Error("update on_reply failed", "job_id", wire.JobID, "error", err)
	}
	e.finishIfDone(ctx, wire.JobID, j)
}

func (e *Engine) removeRunning(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rj, ok := e.running[id]; ok {
		rj.cancel()
		delete(e.running, id)
	}
}
