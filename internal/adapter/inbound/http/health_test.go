package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeQueue struct {
	depth, capacity int
	drops           int64
}

func (q fakeQueue) QueueDepth() int      { return q.depth }
func (q fakeQueue) QueueCapacity() int   { return q.capacity }
func (q fakeQueue) DroppedEvents() int64 { return q.drops }

func TestHealthChecker_Healthy(t *testing.T) {
	hc := NewHealthChecker(fakePinger{}, fakeQueue{depth: 10, capacity: 100}, "test-version")
	health := hc.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["store"] != "ok" {
		t.Errorf("store check = %q, want ok", health.Checks["store"])
	}
	if health.Checks["event_bus"] != "ok: 10/100 (10%)" {
		t.Errorf("event_bus check = %q", health.Checks["event_bus"])
	}
	if _, ok := health.Checks["event_bus_drops"]; ok {
		t.Error("event_bus_drops reported without drops")
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	health := NewHealthChecker(nil, nil, "").Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["store"] != "in-memory" {
		t.Errorf("store = %q, want 'in-memory'", health.Checks["store"])
	}
	if health.Checks["event_bus"] != "not configured" {
		t.Errorf("event_bus = %q, want 'not configured'", health.Checks["event_bus"])
	}
	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check missing")
	}
}

func TestHealthChecker_Unhealthy(t *testing.T) {
	tests := []struct {
		name  string
		store Pinger
		queue QueueStats
		check string
		want  string
	}{
		{"store down", fakePinger{err: errors.New("database is locked")}, nil, "store", "error: database is locked"},
		{"queue nearly full", nil, fakeQueue{depth: 95, capacity: 100, drops: 3}, "event_bus", "degraded: 95/100 (95%)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := NewHealthChecker(tt.store, tt.queue, "").Check(context.Background())
			if health.Status != "unhealthy" {
				t.Errorf("Status = %q, want unhealthy", health.Status)
			}
			if got := health.Checks[tt.check]; got != tt.want {
				t.Errorf("%s = %q, want %q", tt.check, got, tt.want)
			}
		})
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	tests := []struct {
		name       string
		hc         *HealthChecker
		wantStatus int
	}{
		{"healthy", NewHealthChecker(fakePinger{}, nil, "1.0.0"), http.StatusOK},
		{"unhealthy", NewHealthChecker(fakePinger{err: errors.New("closed")}, nil, "1.0.0"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			tt.hc.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Version != "1.0.0" {
				t.Errorf("Version = %q, want 1.0.0", resp.Version)
			}
		})
	}
}
