package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/backend"
	"github.com/xcute-engine/xcute/internal/xcute/module"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
)

func init() { gin.SetMode(gin.TestMode) }

type stubModule struct{}

func (*stubModule) Lock() string                                         { return "" }
func (*stubModule) Tasks(string) (module.Stream, error)                  { return &stubStream{}, nil }
func (*stubModule) ReduceResult(any) (map[string]any, error)              { return nil, nil }
func (*stubModule) ReduceError(*module.TaskError) (map[string]any, error) { return nil, nil }

type stubStream struct{}

func (*stubStream) Next(context.Context) (module.TaskDescriptor, bool, error) {
	return module.TaskDescriptor{}, false, nil
}

func newTestHandler(t *testing.T) (*JobsHandler, backend.Backend) {
	t.Helper()
	log := logger.NewNop()
	back := backend.NewMemory()
	registry := module.NewRegistry()
	if err := registry.Register("tester", func(map[string]any, map[string]any) (module.Module, error) {
		return &stubModule{}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewJobsHandler(log, back, registry), back
}

func doRequest(method, path string, body []byte, mount func(*gin.Engine)) *httptest.ResponseRecorder {
	r := gin.New()
	mount(r)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobRejectsEmptyType(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(http.MethodPost, "/jobs", []byte(`{"type":""}`), func(r *gin.Engine) {
		r.POST("/jobs", h.CreateJob)
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobRejectsUnknownType(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(http.MethodPost, "/jobs", []byte(`{"type":"does-not-exist"}`), func(r *gin.Engine) {
		r.POST("/jobs", h.CreateJob)
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobSucceeds(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(http.MethodPost, "/jobs", []byte(`{"type":"tester","max_per_second":100}`), func(r *gin.Engine) {
		r.POST("/jobs", h.CreateJob)
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetJobNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(http.MethodGet, "/jobs/nope", nil, func(r *gin.Engine) {
		r.GET("/jobs/:id", h.GetJob)
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func newWaitingRecord() *xctypes.Job {
	return &xctypes.Job{
		ID:      "20260101000000.000000-00000000001",
		Type:    "tester",
		Status:  xctypes.StatusWaiting,
		Sending: true,
		Items:   xctypes.Items{MaxPerSecond: 30},
		Errors:  xctypes.Errors{Details: map[string]int{}},
		Options: map[string]any{},
		Details: map[string]any{},
	}
}

func TestDeleteRunningJobConflicts(t *testing.T) {
	h, back := newTestHandler(t)
	ctx := context.Background()
	rec := newWaitingRecord()
	if err := back.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if claimed, err := back.Claim(ctx, "orch-1"); err != nil || claimed == nil {
		t.Fatalf("claim: %v, %v", claimed, err)
	}

	del := doRequest(http.MethodDelete, "/jobs/"+rec.ID, nil, func(r *gin.Engine) {
		r.DELETE("/jobs/:id", h.DeleteJob)
	})
	if del.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting a RUNNING job, got %d: %s", del.Code, del.Body.String())
	}
}

func TestPauseThenDeleteSucceeds(t *testing.T) {
	h, back := newTestHandler(t)
	ctx := context.Background()
	rec := newWaitingRecord()
	if err := back.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if claimed, err := back.Claim(ctx, "orch-1"); err != nil || claimed == nil {
		t.Fatalf("claim: %v, %v", claimed, err)
	}

	pause := doRequest(http.MethodPost, "/jobs/"+rec.ID+"/pause", nil, func(r *gin.Engine) {
		r.POST("/jobs/:id/pause", h.PauseJob)
	})
	if pause.Code != http.StatusNoContent {
		t.Fatalf("expected 204 pausing, got %d: %s", pause.Code, pause.Body.String())
	}

	del := doRequest(http.MethodDelete, "/jobs/"+rec.ID, nil, func(r *gin.Engine) {
		r.DELETE("/jobs/:id", h.DeleteJob)
	})
	if del.Code != http.StatusNoContent {
		t.Fatalf("expected 204 deleting paused job, got %d: %s", del.Code, del.Body.String())
	}
}
