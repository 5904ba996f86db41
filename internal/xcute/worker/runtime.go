// Package worker implements the worker runtime: a stateless process that
// reserves bus messages, executes the described task, and posts
// {job_id, res, exc} back to the embedded reply address. Concurrency
// across reserved messages is handled by github.com/ygrebnov/workers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ygworkers "github.com/ygrebnov/workers"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
	"github.com/xcute-engine/xcute/internal/xcute/module"
)

// Config controls where the runtime listens and how many tasks it runs
// concurrently.
type Config struct {
	Addr         string // this worker's own bus endpoint address
	WorkersTube  string // tube advertised to the orchestrator's dispatch loop
	Concurrency  uint   // fixed pool size; 0 selects a dynamic pool
	ReserveDelay time.Duration
}

// Runtime is one worker process: a bounded pool of concurrent task
// executions fed by reserving messages off WorkersTube.
type Runtime struct {
	cfg      Config
	bus      bus.Bus
	registry *TaskRegistry
	log      *logger.Logger
	reply    *replyClient
	pool     *ygworkers.Workers[struct{}]
}

func NewRuntime(cfg Config, b bus.Bus, registry *TaskRegistry, log *logger.Logger) (*Runtime, error) {
	if b == nil {
		return nil, fmt.Errorf("worker: nil bus")
	}
	if registry == nil {
		return nil, fmt.Errorf("worker: nil task registry")
	}
	if cfg.Addr == "" || cfg.WorkersTube == "" {
		return nil, fmt.Errorf("worker: addr and workers tube are required")
	}
	if cfg.ReserveDelay <= 0 {
		cfg.ReserveDelay = time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runtime{
		cfg:      cfg,
		bus:      b,
		registry: registry,
		log:      log.With("component", "WorkerRuntime"),
		reply:    newReplyClient(b, log),
	}, nil
}

// Run advertises this worker's tube and reserves messages until ctx is
// canceled. Each reserved message is executed on the ygrebnov/workers pool
// so a slow task never blocks the next reserve.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.bus.Advertise(ctx, r.cfg.Addr, r.cfg.WorkersTube); err != nil {
		return fmt.Errorf("worker: advertise: %w", err)
	}
	defer func() {
		deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.bus.Deregister(deregisterCtx, r.cfg.Addr)
	}()

	opts := []ygworkers.Option{ygworkers.WithStartImmediately()}
	if r.cfg.Concurrency > 0 {
		opts = append(opts, ygworkers.WithFixedPool(r.cfg.Concurrency))
	} else {
		opts = append(opts, ygworkers.WithDynamicPool())
	}
	pool, err := ygworkers.NewOptions[struct{}](ctx, opts...)
	if err != nil {
		return fmt.Errorf("worker: new pool: %w", err)
	}
	r.pool = pool
	go r.drainErrors(ctx)

	r.log.Info("worker runtime started", "addr", r.cfg.Addr, "tube", r.cfg.WorkersTube)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := r.bus.Reserve(ctx, r.cfg.Addr, r.cfg.WorkersTube, r.cfg.ReserveDelay)
		if err == bus.ErrReserveTimeout {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("reserve failed", "error", err)
			continue
		}

		msg := raw
		if err := r.pool.AddTask(ygworkers.TaskError[struct{}](func(taskCtx context.Context) error {
			r.handle(taskCtx, msg)
			return nil
		})); err != nil {
			r.log.Error("dispatch to pool failed", "error", err)
		}
	}
}

func (r *Runtime) drainErrors(ctx context.Context) {
	errs := r.pool.GetErrors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.log.Error("task execution error", "error", err)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, raw []byte) {
	var msg bus.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.Error("malformed bus message", "error", err)
		return
	}

	reqid := requestID(msg.JobID)
	res, taskErr := r.process(ctx, msg, reqid)

	var excJSON json.RawMessage
	if taskErr != nil {
		b, err := json.Marshal(taskErr)
		if err != nil {
			r.log.Error("encode task error", "job_id", msg.JobID, "error", err)
			return
		}
		excJSON = b
		r.log.Error("task failed", "job_id", msg.JobID, "item", msg.Item, "class", taskErr.ClassName)
	}

	if msg.BeanstalkdReply.Addr == "" {
		return
	}
	if err := r.reply.send(ctx, msg.BeanstalkdReply, msg.JobID, res, excJSON); err != nil {
		r.log.Warn("failed to reply", "job_id", msg.JobID, "error", err)
	}
}

func (r *Runtime) process(ctx context.Context, msg bus.Message, reqid string) (res any, taskErr *module.TaskError) {
	factory, err := r.registry.TaskFor(msg.Task)
	if err != nil {
		return nil, &module.TaskError{ClassName: "UnknownTaskClass", Message: err.Error()}
	}
	task, err := factory(msg.Kwargs)
	if err != nil {
		return nil, &module.TaskError{ClassName: "BadTaskKwargs", Message: err.Error()}
	}

	defer func() {
		if p := recover(); p != nil {
			taskErr = &module.TaskError{ClassName: "PanicInTask", Message: fmt.Sprintf("%v", p)}
		}
	}()

	out, err := task.Process(ctx, msg.Item, msg.Kwargs, reqid)
	if err != nil {
		if te, ok := err.(*module.TaskError); ok {
			return nil, te
		}
		return nil, &module.TaskError{ClassName: "TaskFailed", Message: err.Error()}
	}
	return out, nil
}

// requestID derives a per-dispatch correlation id from the job id: it keeps
// the timestamp half (everything before the last '-') and replaces the job
// id's random half with a fresh random suffix.
func requestID(jobID string) string {
	for i := len(jobID) - 1; i >= 0; i-- {
		if jobID[i] == '-' {
			return jobID[:i] + "-" + randomSuffix()
		}
	}
	return jobID + "-" + randomSuffix()
}
