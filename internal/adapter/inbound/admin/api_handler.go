// Package admin provides the JSON admin API of complyflow: rule
// management, the rule test harness, execution history and the in-app
// inbox.
package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/workitem"
	"github.com/complyflow/complyflow/internal/service"
)

// maxRequestBodySize limits admin request bodies to 1MB.
const maxRequestBodySize = 1 << 20

// AdminAPIHandler provides JSON API endpoints for administering rules.
type AdminAPIHandler struct {
	rules     *service.RuleAdminService
	harness   *service.TestHarness
	history   automation.ExecutionRecorder
	inbox     workitem.Inbox
	items     workitem.Sink
	keys      Authenticator
	devMode   bool
	actions   func() []string
	logger    *slog.Logger
	buildInfo *BuildInfo
	startTime time.Time

	rateLimit       int
	rateLimitWindow time.Duration
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithRuleAdminService sets the rule administration service.
func WithRuleAdminService(s *service.RuleAdminService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.rules = s }
}

// WithTestHarness sets the harness behind the simulate, test and samples endpoints.
func WithTestHarness(th *service.TestHarness) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.harness = th }
}

// WithExecutionHistory sets the source of GET /admin/api/executions.
func WithExecutionHistory(r automation.ExecutionRecorder) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.history = r }
}

// WithInbox sets the source of GET /admin/api/notifications.
func WithInbox(i workitem.Inbox) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.inbox = i }
}

// WithItems sets the source of GET /admin/api/items.
func WithItems(s workitem.Sink) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.items = s }
}

// WithKeyring requires API keys on every protected route.
func WithKeyring(k Authenticator) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.keys = k }
}

// WithDevMode lets loopback requests through without a key.
func WithDevMode(dev bool) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.devMode = dev }
}

// WithActionTypes reports the registered action types on GET /admin/api/system.
func WithActionTypes(types func() []string) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.actions = types }
}

// WithAPILogger sets the logger for the API handler.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// WithBuildInfo sets build version information for the system info endpoint.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// WithRateLimit limits each caller to max requests per window. max <= 0
// disables the limit.
func WithRateLimit(max int, window time.Duration) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		h.rateLimit = max
		if window > 0 {
			h.rateLimitWindow = window
		}
	}
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:          slog.Default(),
		startTime:       time.Now().UTC(),
		rateLimit:       120,
		rateLimitWindow: time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
// The auth status endpoint is public; everything else goes through
// adminAuthMiddleware. Read routes need any role, write routes need admin.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/api/auth/status", h.handleAuthStatus)

	protectedMux := http.NewServeMux()

	// Rule CRUD.
	protectedMux.HandleFunc("GET /admin/api/rules", h.read(h.handleListRules))
	protectedMux.HandleFunc("POST /admin/api/rules", h.write(h.handleCreateRule))
	protectedMux.HandleFunc("POST /admin/api/rules/validate", h.read(h.handleValidateRule))
	protectedMux.HandleFunc("GET /admin/api/rules/{id}", h.read(h.handleGetRule))
	protectedMux.HandleFunc("PUT /admin/api/rules/{id}", h.write(h.handleUpdateRule))
	protectedMux.HandleFunc("DELETE /admin/api/rules/{id}", h.write(h.handleDeleteRule))
	protectedMux.HandleFunc("POST /admin/api/rules/{id}/enable", h.write(h.handleEnableRule))
	protectedMux.HandleFunc("POST /admin/api/rules/{id}/disable", h.write(h.handleDisableRule))

	// Test harness. Runs never touch statistics or history.
	protectedMux.HandleFunc("POST /admin/api/rules/{id}/simulate", h.write(h.handleSimulateRule))
	protectedMux.HandleFunc("POST /admin/api/rules/{id}/test", h.write(h.handleTestRule))
	protectedMux.HandleFunc("GET /admin/api/rules/{id}/samples", h.read(h.handleRuleSamples))
	protectedMux.HandleFunc("POST /admin/api/harness/test", h.write(h.handleTestDraftRule))
	protectedMux.HandleFunc("POST /admin/api/harness/samples", h.read(h.handleDraftSamples))

	// History and generated records.
	protectedMux.HandleFunc("GET /admin/api/executions", h.read(h.handleListExecutions))
	protectedMux.HandleFunc("GET /admin/api/notifications", h.read(h.handleListNotifications))
	protectedMux.HandleFunc("GET /admin/api/items", h.read(h.handleListItems))

	protectedMux.HandleFunc("GET /admin/api/system", h.read(h.handleSystemInfo))

	mux.Handle("/admin/api/", h.adminAuthMiddleware(h.apiRateLimitMiddleware(protectedMux)))

	return securityHeadersMiddleware(mux)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into v. Numbers stay json.Number so
// condition values compare exactly.
func (h *AdminAPIHandler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// pathParam extracts a named path parameter from the request URL.
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
