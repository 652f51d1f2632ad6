package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecovery(t *testing.T) {
	panics := map[string]any{
		"error":  http.ErrAbortHandler,
		"string": "something went wrong",
		"int":    42,
	}

	for name, value := range panics {
		t.Run(name, func(t *testing.T) {
			handler := Recovery(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(value)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cycles", nil))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected status 500, got %d", w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp.Code != ErrCodeServerError {
				t.Errorf("expected code %s, got %s", ErrCodeServerError, resp.Code)
			}
		})
	}
}

func TestRecovery_IncludesRequestID(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	handler := middleware.RequestID(Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("expected request ID in error body")
	}
	if !strings.Contains(logBuf.String(), resp.RequestID) || !strings.Contains(logBuf.String(), "boom") {
		t.Errorf("log should carry request ID and panic value: %s", logBuf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusBadRequest, "INFO"},
		{http.StatusBadGateway, "WARN"},
	}

	for _, tt := range tests {
		var logBuf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("body"))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/acquisitions", nil))

		var entry map[string]any
		if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log entry: %v", err)
		}
		if entry["level"] != tt.level {
			t.Errorf("status %d: expected level %s, got %v", tt.status, tt.level, entry["level"])
		}
		if entry["status"] != float64(tt.status) || entry["path"] != "/acquisitions" || entry["bytes"] != float64(4) {
			t.Errorf("unexpected log entry %v", entry)
		}
		if _, ok := entry["duration"]; !ok {
			t.Error("log entry should include duration")
		}
	}
}

func TestRequestIDResponse(t *testing.T) {
	handler := middleware.RequestID(RequestIDResponse(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("request ID should be in the context")
		}
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	if id := GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); id != "" {
		t.Errorf("expected empty request ID, got %q", id)
	}
}

func TestContentTypeJSON_CanBeOverridden(t *testing.T) {
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected overridden content type, got %s", ct)
	}
}
