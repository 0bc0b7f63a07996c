package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if captured == "" {
		t.Fatalf("request ID missing from context")
	}
	if rec.Header().Get("X-Request-ID") != captured {
		t.Fatalf("header = %q, context = %q", rec.Header().Get("X-Request-ID"), captured)
	}
}

func TestLoggingMiddlewareEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "subgraph", "products")
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/x", nil))

	out := buf.String()
	if !strings.Contains(out, "request completed") {
		t.Fatalf("completion log missing: %s", out)
	}
	if !strings.Contains(out, `"status":418`) {
		t.Fatalf("status not captured: %s", out)
	}
	if !strings.Contains(out, `"subgraph":"products"`) {
		t.Fatalf("custom field missing: %s", out)
	}
}

func TestTimeoutMiddlewareCancelsContext(t *testing.T) {
	handler := TimeoutMiddleware(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
			t.Errorf("context should have been cancelled")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestAddErrorNoopWithoutMiddleware(t *testing.T) {
	// Must not panic when the logging middleware is absent.
	AddError(context.Background(), nil)
	AddLogField(context.Background(), "k", "v")
}
