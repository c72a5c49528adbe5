package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRequireTenantRejectsAnonymousRequests(t *testing.T) {
	var seenTenant string
	h := requireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTenant = tenantFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	req.Header.Set(TenantIDHeader, "acme")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seenTenant != "acme" {
		t.Errorf("tenant on context = %q, want acme", seenTenant)
	}
}

func TestTracedEchoesCorrelationHeaders(t *testing.T) {
	h := traced(okHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/decide", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("request id echoed = %q, want req-42", got)
	}
	if rec.Header().Get(TraceIDHeader) == "" {
		t.Error("trace id header not set")
	}

	// Without a client-supplied request id one is minted.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/decide", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("request id not minted")
	}
}

func TestRecovererTurnsPanicsInto500(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decisions/d1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestAllowCORSAnswersPreflight(t *testing.T) {
	h := allowCORS(okHandler(t))

	req := httptest.NewRequest(http.MethodOptions, "/decide", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example" {
		t.Errorf("allow-origin = %q", got)
	}

	// Non-preflight requests pass through with the headers attached.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
