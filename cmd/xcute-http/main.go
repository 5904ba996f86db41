// Command xcute-http serves the control-plane REST API.
package main

import (
	"context"
	"fmt"
	"os"

	xchttp "github.com/xcute-engine/xcute/internal/http"
	"github.com/xcute-engine/xcute/internal/http/handlers"
	"github.com/xcute-engine/xcute/internal/platform/config"
	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/backend"
	"github.com/xcute-engine/xcute/internal/xcute/modules"
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

	ctx := context.Background()
	back, err := backend.NewRedis(ctx, cfg.BackendAddr, log)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	router := xchttp.NewRouter(xchttp.RouterConfig{
		Log:    log,
		Health: handlers.NewHealthHandler(),
		Jobs:   handlers.NewJobsHandler(log, back, registry),
	})

	port := config.GetEnv("XCUTE_HTTP_PORT", "8080", log)
	log.Info("xcute-http listening", "port", port)
	return router.Run(":" + port)
}
