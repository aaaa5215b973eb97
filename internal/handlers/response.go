package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/medlogger/druglog-backend/internal/pkg/errors"
	"github.com/medlogger/druglog-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps the service error taxonomy onto HTTP statuses.
// "Not ready" is retryable (503), "not configured" is a deployment
// problem (500), invalid input is the caller's fault (422).
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSearchEngineNotReady):
		RespondError(c, http.StatusServiceUnavailable, "search_engine_not_ready", err)
	case errors.Is(err, services.ErrSearchEngineNotConfigured):
		RespondError(c, http.StatusInternalServerError, "search_engine_not_configured", err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		RespondError(c, http.StatusUnprocessableEntity, "invalid_argument", err)
	case errors.Is(err, pkgerrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
