// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/booking-manager/backend/internal/logger"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteErrorWithDetails(w, status, errCode, message, nil)
}

// WriteErrorWithDetails writes a JSON error response with additional details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, errCode, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
		Details: details,
	})
}

// ErrorRecovery returns middleware that recovers from panics and answers 500.
func ErrorRecovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						logger.String("method", r.Method),
						logger.String("path", r.URL.Path),
						logger.Any("panic", err),
						logger.String("stack", string(debug.Stack())))
					WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Common error codes
const (
	ErrNotFound      = "not_found"
	ErrBadRequest    = "bad_request"
	ErrConflict      = "conflict"
	ErrInternalError = "internal_error"
	ErrValidation    = "validation_error"
	ErrRateLimited   = "rate_limited"
	ErrUpstream      = "upstream_error"
	ErrUnprocessable = "unprocessable_calendar"
)
