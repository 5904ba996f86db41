// Package response is the JSON envelope shared by every xcute HTTP handler.
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xcute-engine/xcute/internal/xcuteerr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	TraceID   string   `json:"trace_id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// RespondError writes an ErrorEnvelope at the given status.
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error:     APIError{Message: msg, Code: code},
		TraceID:   c.GetString("trace_id"),
		RequestID: c.GetString("request_id"),
	})
}

// RespondTaxonomyError maps the engine's error taxonomy to its HTTP
// status: BadOptions/UnknownType -> 400, NotFound -> 404, BadState and
// Conflict -> 409, anything else -> 500.
func RespondTaxonomyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, xcuteerr.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, xcuteerr.ErrBadState):
		RespondError(c, http.StatusConflict, "bad_state", err)
	case errors.Is(err, xcuteerr.ErrConflict):
		RespondError(c, http.StatusConflict, "conflict", err)
	case errors.Is(err, xcuteerr.ErrBadOptions):
		RespondError(c, http.StatusBadRequest, "bad_options", err)
	case errors.Is(err, xcuteerr.ErrUnknownType):
		RespondError(c, http.StatusBadRequest, "unknown_type", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}

func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
