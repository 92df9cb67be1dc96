package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mlxd/internal/registry"
	"mlxd/internal/scheduler"
	"mlxd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps service errors to HTTP status codes. The mapping is
// part of the compatibility surface: clients distinguish backpressure from
// unavailable models by status.
func statusForError(err error) int {
	switch {
	case registry.IsNotFound(err):
		return http.StatusNotFound
	case registry.IsDuplicateIdentifier(err):
		return http.StatusConflict
	case scheduler.IsBackpressure(err):
		return http.StatusTooManyRequests
	case scheduler.IsModelUnavailable(err):
		return http.StatusServiceUnavailable
	case scheduler.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; status is for the log line only.
		return 499
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes the plain error payload used by Ollama-style and
// operational routes.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeOpenAIError writes the error envelope OpenAI clients expect on /v1
// routes.
func writeOpenAIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.OpenAIErrorResponse{Error: types.OpenAIError{
		Message: msg,
		Type:    openAIErrorType(status),
	}})
}

func openAIErrorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

// writeServiceError maps err and writes it in the requested envelope style.
func writeServiceError(w http.ResponseWriter, err error, openai bool) {
	status := statusForError(err)
	if status == 499 {
		// Connection is gone; nothing useful to write.
		return
	}
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	if openai {
		writeOpenAIError(w, status, err.Error())
		return
	}
	writeJSONError(w, status, err.Error())
}
