package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/complyflow/complyflow/internal/domain/auth"
)

var errEmptyBody = errors.New("empty request body")

// Authenticator resolves a raw API key to an identity. *auth.Keyring
// implements it.
type Authenticator interface {
	Validate(ctx context.Context, rawKey string) (*auth.Identity, error)
}

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is not trusted here.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// adminAuthMiddleware authenticates the Bearer key and stores the identity
// in the request context. In dev mode loopback requests without a key pass
// unauthenticated and act on any tenant. Without a keyring only that dev
// bypass can reach the API.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, hasToken := bearerToken(r)
		if !hasToken {
			if h.devMode && isLocalhost(r) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="complyflow-admin"`)
			h.respondError(w, http.StatusUnauthorized, "admin API requires an API key")
			return
		}
		if h.keys == nil {
			h.respondError(w, http.StatusUnauthorized, "no API keys configured")
			return
		}

		id, err := h.keys.Validate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidKey) {
				h.logger.Error("api key validation failed", "error", err)
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="complyflow-admin"`)
			h.respondError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	v := r.Header.Get("Authorization")
	if !strings.HasPrefix(v, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	return token, token != ""
}

// read allows any authenticated role except ingest-only keys.
func (h *AdminAPIHandler) read(next http.HandlerFunc) http.HandlerFunc {
	return h.requireRole(next, auth.RoleAdmin, auth.RoleReadOnly)
}

// write allows admin keys only.
func (h *AdminAPIHandler) write(next http.HandlerFunc) http.HandlerFunc {
	return h.requireRole(next, auth.RoleAdmin)
}

func (h *AdminAPIHandler) requireRole(next http.HandlerFunc, roles ...auth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// No identity means the dev-mode loopback bypass.
		if id := auth.IdentityFrom(r.Context()); id != nil && !id.HasAnyRole(roles...) {
			h.respondError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	}
}

// tenantScope resolves the tenant a request acts on from the "tenant" query
// parameter or the X-Tenant-ID header. A key scoped to a single tenant
// defaults to it. An empty result means all tenants and is only possible
// for unscoped callers. ok is false when the caller may not access the
// requested tenant.
func tenantScope(r *http.Request) (tenantID string, ok bool) {
	tenantID = r.URL.Query().Get("tenant")
	if tenantID == "" {
		tenantID = r.Header.Get("X-Tenant-ID")
	}

	id := auth.IdentityFrom(r.Context())
	if id == nil {
		return tenantID, true
	}
	if tenantID == "" {
		if len(id.Tenants) == 0 {
			return "", true
		}
		tenantID = id.DefaultTenant()
		return tenantID, tenantID != ""
	}
	return tenantID, id.CanAccessTenant(tenantID)
}

// scopedTenant writes 403 and returns false when the caller may not act on
// the requested tenant.
func (h *AdminAPIHandler) scopedTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := tenantScope(r)
	if !ok {
		h.respondError(w, http.StatusForbidden, "tenant not accessible with this key; pass ?tenant=")
		return "", false
	}
	return tenantID, true
}
