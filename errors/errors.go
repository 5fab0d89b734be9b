package httperrors

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog" // Use slog for logging errors internally
	"net/http"
	"strings"
)

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 64 << 10

// ErrorResponse defines the standard JSON error structure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// APIError is a non-2xx answer from the collection server. It is a
// permanent failure: the request reached the server and was rejected.
type APIError struct {
	Method  string
	URL     string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Message)
}

// FromResponse builds an APIError from a failed response, using the JSON
// error body when present and the raw body otherwise.
func FromResponse(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	if resp.Request != nil {
		apiErr.Method = resp.Request.Method
		apiErr.URL = resp.Request.URL.Redacted()
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) // Best effort to read body
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		apiErr.Message = errResp.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// RespondWithError sends a JSON error response.
func RespondWithError(w http.ResponseWriter, logger *slog.Logger, status int, internalError error, userMessage string) {
	// Log the internal error for debugging
	if internalError != nil {
		logger.Error("API Error",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
			slog.String("internal_error", internalError.Error()),
		)
	} else {
		logger.Warn("API Response Error",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
		)
	}

	errResp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: userMessage,
		Status:  status,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		logger.Error("Failed to encode error response", slog.String("encoding_error", err.Error()))
	}
}

// Convenience functions for common errors

func BadRequest(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusBadRequest, err, message)
}

func Unauthorized(w http.ResponseWriter, logger *slog.Logger, message string) {
	RespondWithError(w, logger, http.StatusUnauthorized, nil, message)
}

func NotFound(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusNotFound, err, message)
}

func RequestEntityTooLarge(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusRequestEntityTooLarge, err, message)
}

func InternalServerError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "An unexpected error occurred."
	}
	RespondWithError(w, logger, http.StatusInternalServerError, err, message)
}
