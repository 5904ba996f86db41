// Command xcute-worker runs one stateless worker process: reserve a task
// off the workers tube, run it, post the reply.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xcute-engine/xcute/internal/platform/config"
	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
	"github.com/xcute-engine/xcute/internal/xcute/modules"
	"github.com/xcute-engine/xcute/internal/xcute/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	log, err := logger.New(os.Getenv("XCUTE_LOG_MODE"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(log)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	taskRegistry, err := modules.NewTaskRegistry()
	if err != nil {
		return fmt.Errorf("task registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bus.New(ctx, cfg.BusAddr, log)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer b.Close()

	addr := config.GetEnv("XCUTE_WORKER_ADDR", cfg.OrchestratorID+"-worker", log)
	concurrency := config.GetEnvAsInt("XCUTE_WORKER_CONCURRENCY", 0, log)

	runtime, err := worker.NewRuntime(worker.Config{
		Addr:        addr,
		WorkersTube: cfg.WorkersTube,
		Concurrency: uint(concurrency),
	}, b, taskRegistry, log)
	if err != nil {
		return fmt.Errorf("worker runtime: %w", err)
	}

	log.Info("xcute-worker starting", "addr", addr, "workers_tube", cfg.WorkersTube)
	return runtime.Run(ctx)
}
