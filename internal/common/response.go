package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// RenderError maps application errors onto the canonical error response,
// honouring the sentinel taxonomy and AppError metadata.
func RenderError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrNotFound):
		JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, ErrForbidden):
		JSONError(w, http.StatusForbidden, "FORBIDDEN", "access denied", nil)
	case errors.Is(err, ErrInvalidSignature):
		JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed", nil)
	case IsStorageError(err):
		JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "temporary storage failure", nil)
	default:
		var appErr *AppError
		if errors.As(err, &appErr) {
			status := appErr.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
