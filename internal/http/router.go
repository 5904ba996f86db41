// Package http wires the xcute control-plane router: a thin Server
// wrapping a *gin.Engine assembled from one handler struct per resource.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/xcute-engine/xcute/internal/http/handlers"
	"github.com/xcute-engine/xcute/internal/http/middleware"
	"github.com/xcute-engine/xcute/internal/platform/logger"
)

// RouterConfig names every handler the router mounts.
type RouterConfig struct {
	Log    *logger.Logger
	Health *handlers.HealthHandler
	Jobs   *handlers.JobsHandler
}

// NewRouter mounts the control-plane routes under /v1.0/xcute plus a bare
// health check.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.RequestLog(cfg.Log))

	r.GET("/healthz", cfg.Health.HealthCheck)

	v1 := r.Group("/v1.0/xcute")
	{
		v1.POST("/jobs", cfg.Jobs.CreateJob)
		v1.GET("/jobs", cfg.Jobs.ListJobs)
		v1.GET("/jobs/waiting", cfg.Jobs.ListWaiting)
		v1.GET("/jobs/locks", cfg.Jobs.ListLocks)
		v1.GET("/jobs/:id", cfg.Jobs.GetJob)
		v1.DELETE("/jobs/:id", cfg.Jobs.DeleteJob)
		v1.POST("/jobs/:id/pause", cfg.Jobs.PauseJob)
		v1.POST("/jobs/:id/resume", cfg.Jobs.ResumeJob)
		v1.GET("/orchestrator/:oid/jobs", cfg.Jobs.ListOrchestratorJobs)
	}
	return r
}

// Server is the running HTTP control plane.
type Server struct {
	Engine *gin.Engine
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

func (s *Server) Run(addr string) error {
	return s.Engine.Run(addr)
}
