// Package api provides HTTP handlers and routing for the changewatch service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	ErrCodeBadRequest       = "malformed_request"
	ErrCodeInvalidParameter = "invalid_area_or_dates"
	ErrCodeNotFound         = "no_such_endpoint"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUpstreamError    = "change_detection_failed"
	ErrCodeUnavailable      = "request_canceled"
	ErrCodeServerError      = "internal"
)

var errorStatus = map[string]int{
	ErrCodeBadRequest:       http.StatusBadRequest,
	ErrCodeInvalidParameter: http.StatusBadRequest,
	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeMethodNotAllowed: http.StatusMethodNotAllowed,
	ErrCodeUpstreamError:    http.StatusBadGateway,
	ErrCodeUnavailable:      http.StatusServiceUnavailable,
	ErrCodeServerError:      http.StatusInternalServerError,
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response",
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// WriteError replies with the status that belongs to code. Unknown codes are
// reported as 500.
func WriteError(w http.ResponseWriter, code, message string) {
	writeErrorResponse(w, ErrorResponse{Code: code, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, e ErrorResponse) {
	status, ok := errorStatus[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	_ = WriteJSON(w, status, e)
}
