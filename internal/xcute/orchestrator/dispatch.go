package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/backend"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
)

// dispatchOutcome tells the engine why a dispatch task returned.
type dispatchOutcome int

const (
	// dispatchExhausted: the stream drained cleanly; the job finishes
	// once outstanding replies are processed.
	dispatchExhausted dispatchOutcome = iota
	// dispatchFailed: the job was marked FAILED; drop it immediately.
	dispatchFailed
	// dispatchStopped: shutdown fired, or the job left RUNNING under an
	// operator's feet (pause); nothing to do, nothing to fail.
	dispatchStopped
)

// dispatchTask drains one running job's item stream onto the worker bus,
// rate-limited, round-robin across the current worker set. One instance
// runs per RUNNING job, for the job's lifetime in this process.
type dispatchTask struct {
	j         *job.Job
	back      backend.Backend
	b         bus.Bus
	discovery *discovery
	replyAddr bus.ReplyAddr
	log       *logger.Logger
	shutdown  <-chan struct{}

	rrCursor int
}

func newDispatchTask(j *job.Job, back backend.Backend, b bus.Bus, d *discovery, replyAddr bus.ReplyAddr, log *logger.Logger, shutdown <-chan struct{}) *dispatchTask {
	return &dispatchTask{
		j: j, back: back, b: b, discovery: d,
		replyAddr: replyAddr,
		log:       log.With("component", "DispatchTask", "job_id", j.Record.ID),
		shutdown:  shutdown,
	}
}

// run drives the job to stream exhaustion or failure, observing shutdown
// cooperatively between blocking steps. It never marks the job failed on
// a clean shutdown, and stops dispatching as soon as a write-through
// update reports the job is no longer RUNNING (an operator paused it).
func (d *dispatchTask) run(ctx context.Context) dispatchOutcome {
	bucket := newTokenBucket(d.j.Record.Items.MaxPerSecond)

	for {
		select {
		case <-d.shutdown:
			return dispatchStopped
		case <-ctx.Done():
			return dispatchStopped
		default:
		}

		desc, ok, err := d.j.NextTask(ctx)
		if err != nil {
			d.log.Error("dispatch failed, failing job", "error", err)
			_ = d.back.Fail(ctx, d.j.Record.ID, err.Error())
			return dispatchFailed
		}
		if !ok {
			delta := d.j.OnAllSent()
			if _, err := d.back.Update(ctx, d.j.Record.ID, delta); err != nil {
				d.log.Error("update on_all_sent failed", "error", err)
			}
			return dispatchExhausted
		}

		if !bucket.wait(d.shutdown) {
			return dispatchStopped
		}

		addr, waited := d.pickWorker(ctx)
		if !waited {
			return dispatchStopped
		}

		payload, err := json.Marshal(bus.Message{
			JobID:           d.j.Record.ID,
			Task:            desc.TaskClass,
			Item:            desc.Item,
			Kwargs:          desc.Kwargs,
			BeanstalkdReply: d.replyAddr,
		})
		if err != nil {
			d.log.Error("dispatch failed: encode message", "error", err)
			_ = d.back.Fail(ctx, d.j.Record.ID, err.Error())
			return dispatchFailed
		}

		if err := d.b.Put(ctx, addr, d.discovery.workersTube, payload); err != nil {
			d.log.Error("dispatch failed: put", "error", err)
			_ = d.back.Fail(ctx, d.j.Record.ID, err.Error())
			return dispatchFailed
		}

		delta := d.j.OnSent(desc.Item)
		status, err := d.back.Update(ctx, d.j.Record.ID, delta)
		if err != nil {
			d.log.Error("update on_sent failed", "error", err)
			continue
		}
		if status != xctypes.StatusRunning {
			d.log.Info("job left RUNNING, stopping dispatch", "status", string(status))
			return dispatchStopped
		}
	}
}

const fullQueueThreshold = 1000

// pickWorker rotates through the current worker set, skipping any whose
// pending-message count has reached fullQueueThreshold. If every worker
// is full it logs once and sleeps 5s before retrying. Returns false if
// shutdown fired while waiting.
func (d *dispatchTask) pickWorker(ctx context.Context) (string, bool) {
	for {
		ws := d.discovery.get()
		n := ws.len()
		if n == 0 {
			// An empty set usually means discovery hasn't completed its
			// first poll yet; recheck sooner than the full-queue backoff.
			if !d.sleepBackoff(500 * time.Millisecond) {
				return "", false
			}
			continue
		}

		loggedFull := false
		for i := 0; i < n; i++ {
			addr := ws.addrs[d.rrCursor%n]
			d.rrCursor++

			qlen, err := d.b.QueueLen(ctx, addr, d.discovery.workersTube)
			if err != nil || qlen < fullQueueThreshold {
				return addr, true
			}
			if !loggedFull {
				d.log.Warn("all discovered workers appear full, retrying", "worker_count", n)
				loggedFull = true
			}
		}
		if !d.sleepBackoff(5 * time.Second) {
			return "", false
		}
	}
}

func (d *dispatchTask) sleepBackoff(wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-d.shutdown:
		return false
	case <-timer.C:
		return true
	}
}
