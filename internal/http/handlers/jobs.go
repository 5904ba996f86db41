// Package handlers implements the REST control surface: a thin mapping of
// operator intent onto backend operations and new-job construction. One
// handler struct per resource, holding only the collaborators it needs.
// The create and listing handlers log failures before responding; the
// single-job handlers respond without logging.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xcute-engine/xcute/internal/http/response"
	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/backend"
	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/module"
)

var errEmptyType = errors.New("job type is required")
var errInvalidLimit = errors.New("limit must be a positive integer")

const defaultListLimit = 100

// JobsHandler implements every route under /v1.0/xcute.
type JobsHandler struct {
	log      *logger.Logger
	back     backend.Backend
	registry *module.Registry
}

func NewJobsHandler(log *logger.Logger, back backend.Backend, registry *module.Registry) *JobsHandler {
	return &JobsHandler{
		log:      log.With("handler", "JobsHandler"),
		back:     back,
		registry: registry,
	}
}

// createJobRequest is the JSON body of POST /jobs.
type createJobRequest struct {
	Type         string         `json:"type"`
	MaxPerSecond int            `json:"max_per_second"`
	Options      map[string]any `json:"options"`
}

// CreateJob handles POST /v1.0/xcute/jobs.
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Type == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errEmptyType)
		return
	}

	factory, err := h.registry.ModuleFor(req.Type)
	if err != nil {
		response.RespondTaxonomyError(c, err)
		return
	}

	j, err := job.Create(req.Type, req.MaxPerSecond, req.Options, factory)
	if err != nil {
		h.log.Warn("CreateJob: module rejected options", "type", req.Type, "error", err)
		response.RespondTaxonomyError(c, err)
		return
	}

	if err := h.back.Create(c.Request.Context(), j.Record); err != nil {
		h.log.Error("CreateJob: backend create failed", "job_id", j.Record.ID, "error", err)
		response.RespondTaxonomyError(c, err)
		return
	}

	response.RespondCreated(c, j.Record)
}

// ListJobs handles GET /v1.0/xcute/jobs?limit=&marker=.
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", errInvalidLimit)
			return
		}
		limit = n
	}
	marker := c.Query("marker")

	records, err := h.back.List(c.Request.Context(), limit, marker)
	if err != nil {
		h.log.Error("ListJobs: backend list failed", "error", err)
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": records})
}

// ListWaiting handles GET /v1.0/xcute/jobs/waiting.
func (h *JobsHandler) ListWaiting(c *gin.Context) {
	records, err := h.back.ListWaiting(c.Request.Context())
	if err != nil {
		h.log.Error("ListWaiting: backend list failed", "error", err)
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": records})
}

// ListLocks handles GET /v1.0/xcute/jobs/locks.
func (h *JobsHandler) ListLocks(c *gin.Context) {
	locks, err := h.back.Locks(c.Request.Context())
	if err != nil {
		h.log.Error("ListLocks: backend locks failed", "error", err)
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"locks": locks})
}

// GetJob handles GET /v1.0/xcute/jobs/:id.
func (h *JobsHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	record, err := h.back.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondOK(c, record)
}

// DeleteJob handles DELETE /v1.0/xcute/jobs/:id.
func (h *JobsHandler) DeleteJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.back.Delete(c.Request.Context(), id); err != nil {
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// PauseJob handles POST /v1.0/xcute/jobs/:id/pause.
func (h *JobsHandler) PauseJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.back.Pause(c.Request.Context(), id); err != nil {
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// ResumeJob handles POST /v1.0/xcute/jobs/:id/resume.
func (h *JobsHandler) ResumeJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.back.Resume(c.Request.Context(), id); err != nil {
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// ListOrchestratorJobs handles GET /v1.0/xcute/orchestrator/:oid/jobs.
func (h *JobsHandler) ListOrchestratorJobs(c *gin.Context) {
	oid := c.Param("oid")
	records, err := h.back.ListOrchestrator(c.Request.Context(), oid)
	if err != nil {
		h.log.Error("ListOrchestratorJobs: backend list failed", "oid", oid, "error", err)
		response.RespondTaxonomyError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": records})
}
