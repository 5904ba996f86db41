// Command xcute-orchestrator runs one orchestrator process:
// worker discovery, claim loop, reply loop, and one dispatch task per
// running job, until an interrupt or terminate signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/xcute-engine/xcute/internal/platform/config"
	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/backend"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
	"github.com/xcute-engine/xcute/internal/xcute/modules"
	"github.com/xcute-engine/xcute/internal/xcute/orchestrator"
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

	registry, err := modules.NewRegistry()
	if err != nil {
		return fmt.Errorf("module registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	back, err := backend.NewRedis(ctx, cfg.BackendAddr, log)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	b, err := bus.New(ctx, cfg.BusAddr, log)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer b.Close()

	engine := orchestrator.New(orchestrator.Config{
		OrchestratorID: cfg.OrchestratorID,
		ReplyAddr:      cfg.BusAddr,
		ReplyTube:      cfg.ReplyTube,
		WorkersTube:    cfg.WorkersTube,
	}, back, b, registry, log)

	// A second signal after shutdown has begun aborts the process
	// immediately rather than waiting for dispatch tasks to drain.
	var secondSignal atomic.Bool
	go func() {
		<-ctx.Done()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		if secondSignal.CompareAndSwap(false, true) {
			log.Warn("second shutdown signal received, exiting immediately")
			os.Exit(1)
		}
	}()

	log.Info("xcute-orchestrator starting", "orchestrator_id", cfg.OrchestratorID)
	return engine.Run(ctx)
}
