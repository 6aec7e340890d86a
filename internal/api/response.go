// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/middleware"
)

// Stable error codes returned in the "error.code" field.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeBadGateway         = "BAD_GATEWAY"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// APIError is the machine-readable error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// respond writes payload as a success envelope. The success, timestamp
// and requestId fields are injected so handlers only supply their own
// top-level keys.
func respond(w http.ResponseWriter, r *http.Request, status int, payload map[string]any) {
	body := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		body[k] = v
	}
	body["success"] = true
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	if id := middleware.GetRequestID(r.Context()); id != "" {
		body["requestId"] = id
	}
	writeJSON(w, r, status, body)
}

// respondError writes a failure envelope with a stable error code.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	body := map[string]any{
		"success":   false,
		"error":     &APIError{Code: code, Message: message, Details: details},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if id := middleware.GetRequestID(r.Context()); id != "" {
		body["requestId"] = id
	}
	writeJSON(w, r, status, body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to write response")
	}
}
