package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
)

// ApiResponse is the envelope for API responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData wraps data in a successful ApiResponse.
func writeData(w http.ResponseWriter, data any, logger *zap.Logger) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// statusForError maps service errors to an HTTP status and error code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrNotRegistered):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrAlreadyRegistered), errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrAlreadyRunning), errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrDimensionMismatch), errors.Is(err, apperrors.ErrInvalidEmbedding):
		return http.StatusUnprocessableEntity, "invalid_embedding"
	case errors.Is(err, apperrors.ErrTransportUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError writes the response for an error returned by a service.
// Server errors get a generic message; client errors carry the error text.
func writeServiceError(w http.ResponseWriter, err error, message string, logger *zap.Logger) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.Error(err))
	} else {
		message = err.Error()
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to encode error response", zap.Error(err))
	}
}
