// Package response writes the JSON envelope used by the ops endpoints.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperr "github.com/tappedai/event-crawler/internal/errors"
)

// Envelope provides a consistent JSON response structure.
type Envelope struct {
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Success bool   `json:"success"`
}

// JSON writes data in an envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	write(w, status, Envelope{Success: status < 400, Data: data}, logger)
}

// Success writes a 200 OK response.
func Success(w http.ResponseWriter, data any, logger *slog.Logger) {
	JSON(w, http.StatusOK, data, logger)
}

// Error writes an error response with the given status code.
func Error(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	write(w, status, Envelope{Error: message}, logger)
}

// BadRequest writes a 400 Bad Request response.
func BadRequest(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusBadRequest, message, logger)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusNotFound, message, logger)
}

// HandleError maps coded errors to their HTTP status. Uncoded errors
// become a 500 with a generic message.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var coded *apperr.Error
	if apperr.As(err, &coded) {
		status := coded.Code.HTTPStatus()
		if status >= http.StatusInternalServerError && logger != nil {
			logger.Error("request failed", "error", err)
		}
		write(w, status, Envelope{Error: coded.Message, Code: string(coded.Code)}, logger)
		return
	}

	if logger != nil {
		logger.Error("unhandled error", "error", err)
	}
	Error(w, http.StatusInternalServerError, "internal server error", logger)
}

func write(w http.ResponseWriter, status int, envelope Envelope, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil && logger != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
