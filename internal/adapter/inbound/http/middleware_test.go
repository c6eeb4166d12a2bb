package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/complyflow/complyflow/internal/domain/auth"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"propagates caller id", "req-123"},
		{"generates id", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
				if LoggerFromContext(r.Context()) == nil {
					t.Error("no logger in context")
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get("X-Request-ID") != seen {
				t.Errorf("context id %q, header %q", seen, rec.Header().Get("X-Request-ID"))
			}
			if tt.incoming != "" && seen != tt.incoming {
				t.Errorf("id = %q, want %q", seen, tt.incoming)
			}
		})
	}
}

func TestExtractRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "10.0.0.5:4242", nil, "10.0.0.5"},
		{"forwarded first hop", "10.0.0.5:4242", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"real ip header", "10.0.0.5:4242", map[string]string{"X-Real-IP": " 198.51.100.2 "}, "198.51.100.2"},
		{"no port", "unix", nil, "unix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			var got string
			RealIPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIPFromContext(r.Context())
			})).ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyMiddleware_StoresIdentity(t *testing.T) {
	var id *auth.Identity
	h := APIKeyMiddleware(testKeys())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = auth.IdentityFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer ingest-t1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if id == nil || id.ID != "siem" {
		t.Errorf("identity = %+v", id)
	}
}

func TestAPIKeyMiddleware_Rejects(t *testing.T) {
	h := APIKeyMiddleware(testKeys())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))
	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status = %d, want 401", header, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("Authorization %q: no WWW-Authenticate header", header)
		}
	}
}
