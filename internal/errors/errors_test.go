package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{Internal("boom"), http.StatusInternalServerError},
		{BadRequestWrap(errors.New("bad"), "bad input"), http.StatusBadRequest},
		{RateLimit("slow down"), http.StatusTooManyRequests},
		{ServiceUnavailable("closing"), http.StatusServiceUnavailable},
		{Upstream(errors.New("refused"), "Failed to trigger refresh."), http.StatusBadGateway},
		{Upstream(fmt.Errorf("poll: %w", context.DeadlineExceeded), "Failed to trigger refresh."), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if tt.err.StatusCode != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, tt.err.StatusCode)
			}
		})
	}
}

func TestWriteError_WrappedAppError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("start refresh: %w", Upstream(cause, "Failed to trigger refresh."))

	w := httptest.NewRecorder()
	WriteError(w, discardLogger(), err, "req-1")

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected status %d, got %d", http.StatusBadGateway, w.Code)
	}

	var response struct {
		Success bool `json:"success"`
		Error   struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Success {
		t.Error("expected success=false")
	}
	if response.Error.Code != string(CodeUpstream) || response.Error.Message != "Failed to trigger refresh." {
		t.Errorf("unexpected error body %+v", response.Error)
	}
	if response.Error.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %q", response.Error.RequestID)
	}
}

func TestWriteError_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, discardLogger(), errors.New("plain"), "")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"phase": "POLLING"})

	if w.Code != http.StatusAccepted {
		t.Errorf("expected status %d, got %d", http.StatusAccepted, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var response SuccessResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.Success {
		t.Error("expected success=true")
	}
}

func TestWriteSuccessWithHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessWithHeaders(w, nil, map[string]string{"Cache-Control": "no-store"})

	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", got)
	}
}

type backendStatusError struct{ status int }

func (e *backendStatusError) Error() string      { return "backend failed" }
func (e *backendStatusError) BackendStatus() int { return e.status }

func TestUpstream_EchoesBackendStatus(t *testing.T) {
	err := Upstream(fmt.Errorf("start refresh: %w", &backendStatusError{status: http.StatusServiceUnavailable}), "Failed to trigger refresh.")

	if err.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status %d, got %d", http.StatusBadGateway, err.StatusCode)
	}
	if err.Details != "backend responded 503 Service Unavailable" {
		t.Errorf("unexpected details %q", err.Details)
	}
	if !IsUpstream(fmt.Errorf("wrapped: %w", err)) {
		t.Error("expected IsUpstream to see through wrapping")
	}
	if IsUpstream(Internal("boom")) {
		t.Error("internal errors are not upstream errors")
	}
}

func TestWriteError_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, discardLogger(), RateLimit("Too many requests").WithRetryAfter(1500*time.Millisecond), "")

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After rounded up to 2, got %q", got)
	}

	w = httptest.NewRecorder()
	WriteError(w, discardLogger(), Internal("boom"), "")
	if got := w.Header().Get("Retry-After"); got != "" {
		t.Errorf("unexpected Retry-After %q", got)
	}
}
