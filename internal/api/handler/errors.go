package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/jobledger/internal/api/response"
	"github.com/kiranshivaraju/jobledger/internal/apperrors"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeDuplicateID            = "DUPLICATE_ID"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeInvalidState           = "INVALID_STATE"
	CodeAlreadyBound           = "ALREADY_BOUND"
	CodeConcurrentUpdate       = "CONCURRENT_UPDATE"
	CodePersistenceUnavailable = "PERSISTENCE_UNAVAILABLE"
	CodeInternal               = "INTERNAL_ERROR"
)

// writeError maps a lifecycle error onto an HTTP status and error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var details any
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Field != "" {
		details = map[string]string{"field": appErr.Field}
	}

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		response.Error(w, http.StatusBadRequest, CodeValidation, err.Error(), details)
	case errors.Is(err, apperrors.ErrNotFound):
		response.Error(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, apperrors.ErrDuplicateID):
		response.Error(w, http.StatusConflict, CodeDuplicateID, err.Error(), nil)
	case errors.Is(err, apperrors.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, CodeInvalidTransition, err.Error(), nil)
	case errors.Is(err, apperrors.ErrInvalidState):
		response.Error(w, http.StatusConflict, CodeInvalidState, err.Error(), nil)
	case errors.Is(err, apperrors.ErrAlreadyBound):
		response.Error(w, http.StatusConflict, CodeAlreadyBound, err.Error(), nil)
	case errors.Is(err, apperrors.ErrConcurrentUpdate):
		w.Header().Set("Retry-After", "1")
		response.Error(w, http.StatusConflict, CodeConcurrentUpdate,
			"The job was modified concurrently, retry the request", nil)
	case errors.Is(err, apperrors.ErrUnavailable):
		slog.Warn("persistence unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusServiceUnavailable, CodePersistenceUnavailable,
			"The job store is unavailable", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, CodeInternal,
			"An unexpected error occurred", nil)
	}
}
