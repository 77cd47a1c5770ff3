package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mbrennan/carton"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// HandleError writes the response matching the error's kind. Every kind the
// engine distinguishes maps to its own status; only genuinely unexpected
// faults collapse into a 500.
func HandleError(w http.ResponseWriter, err error) {
	slog.Error("request error", "error", err)

	switch {
	case errors.Is(err, carton.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "Object or upload not found")
	case errors.Is(err, carton.ErrInvalidArgument):
		WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, carton.ErrChecksumMismatch):
		WriteError(w, http.StatusUnprocessableEntity, "checksum_mismatch", err.Error())
	case errors.Is(err, carton.ErrIncompleteUpload):
		WriteError(w, http.StatusConflict, "incomplete_upload", err.Error())
	case errors.Is(err, carton.ErrInvalidState):
		WriteError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, carton.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, "unauthorized", "Invalid or expired token")
	case errors.Is(err, carton.ErrMetadataUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "metadata_unavailable", "Metadata service unavailable, retry later")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
