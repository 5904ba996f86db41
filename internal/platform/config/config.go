package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xcute-engine/xcute/internal/platform/logger"
)

// Config holds the engine's required and optional settings.
type Config struct {
	BusAddr        string // beanstalkd_reply_addr equivalent: the bus endpoint
	ReplyTube      string // beanstalkd_reply_tube
	WorkersTube    string // beanstalkd_workers_tube
	BackendAddr    string // backend_endpoint
	OrchestratorID string // defaults to hostname

	LogMode string // "dev" or "prod"
}

// Load reads the engine's configuration from the environment. The four bus
// and backend keys are required; OrchestratorID defaults to the host name.
func Load(log *logger.Logger) (Config, error) {
	cfg := Config{
		BusAddr:     GetEnv("XCUTE_BUS_ADDR", "", log),
		ReplyTube:   GetEnv("XCUTE_REPLY_TUBE", "", log),
		WorkersTube: GetEnv("XCUTE_WORKERS_TUBE", "", log),
		BackendAddr: GetEnv("XCUTE_BACKEND_ADDR", "", log),
		LogMode:     GetEnv("XCUTE_LOG_MODE", "dev", log),
	}

	cfg.OrchestratorID = strings.TrimSpace(GetEnv("XCUTE_ORCHESTRATOR_ID", "", log))
	if cfg.OrchestratorID == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "xcute-orchestrator"
		}
		cfg.OrchestratorID = host
	}

	var missing []string
	if cfg.BusAddr == "" {
		missing = append(missing, "XCUTE_BUS_ADDR")
	}
	if cfg.ReplyTube == "" {
		missing = append(missing, "XCUTE_REPLY_TUBE")
	}
	if cfg.WorkersTube == "" {
		missing = append(missing, "XCUTE_WORKERS_TUBE")
	}
	if cfg.BackendAddr == "" {
		missing = append(missing, "XCUTE_BACKEND_ADDR")
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}
