package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_Endpoints(t *testing.T) {
	c, reg := newTestCollector()
	c.WorkerStarted()

	ready := false
	h := NewHandler(reg, func() (bool, string) {
		if ready {
			return true, "connected"
		}
		return false, "disconnected"
	})

	tests := []struct {
		name     string
		path     string
		ready    bool
		wantCode int
		wantBody string
	}{
		{"metrics", "/metrics", false, http.StatusOK, "mediactl_worker_starts_total 1"},
		{"health", "/health", false, http.StatusOK, "ok"},
		{"healthz", "/healthz", false, http.StatusOK, "ok"},
		{"not ready", "/ready", false, http.StatusServiceUnavailable, "disconnected"},
		{"ready", "/readyz", true, http.StatusOK, "connected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body missing %q:\n%s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestHandler_NilHealth(t *testing.T) {
	_, reg := newTestCollector()
	rec := httptest.NewRecorder()
	NewHandler(reg, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	_, reg := newTestCollector()
	s := NewServer("127.0.0.1:0", reg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
