package admin

import (
	"net/http"

	"github.com/complyflow/complyflow/internal/domain/auth"
)

// authStatusResponse is the JSON response for GET /admin/api/auth/status.
type authStatusResponse struct {
	AuthRequired  bool     `json:"auth_required"`
	KeysEnabled   bool     `json:"keys_enabled"`
	Localhost     bool     `json:"localhost"`
	Authenticated bool     `json:"authenticated"`
	Identity      string   `json:"identity,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Tenants       []string `json:"tenants,omitempty"`
}

// handleAuthStatus reports how the caller would be authenticated.
// GET /admin/api/auth/status
//
// A Bearer key on this request is checked but never required.
func (h *AdminAPIHandler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	local := isLocalhost(r)
	resp := authStatusResponse{
		AuthRequired: !(h.devMode && local),
		KeysEnabled:  h.keys != nil,
		Localhost:    local,
	}

	if token, ok := bearerToken(r); ok && h.keys != nil {
		if id, err := h.keys.Validate(r.Context(), token); err == nil {
			resp.Authenticated = true
			resp.Identity = id.Name
			if resp.Identity == "" {
				resp.Identity = id.ID
			}
			for _, role := range id.Roles {
				resp.Roles = append(resp.Roles, string(role))
			}
			resp.Tenants = id.Tenants
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// callerName identifies the caller in logs.
func callerName(r *http.Request) string {
	if id := auth.IdentityFrom(r.Context()); id != nil {
		return id.ID
	}
	return "localhost"
}
