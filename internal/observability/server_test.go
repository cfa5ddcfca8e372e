package observability

import (
	"net/http/httptest"
	"testing"
)

func TestReadyzReflectsReadiness(t *testing.T) {
	ready := false
	s := NewServer(":0", func() bool { return ready })

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("expected 503 before startup, got %d", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200 after startup, got %d", rec.Code)
	}
}

func TestReadyzNilFuncAlwaysReady(t *testing.T) {
	s := NewServer(":0", nil)

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := NewServer(":0", func() bool { return false })

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
