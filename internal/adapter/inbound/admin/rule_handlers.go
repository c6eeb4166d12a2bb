package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

// ruleRequest is the JSON request body for creating or updating a rule.
// Statistics and timestamps are server-managed and not accepted.
type ruleRequest struct {
	TenantID          string                   `json:"tenant_id"`
	Name              string                   `json:"rule_name"`
	Description       string                   `json:"description"`
	TriggerEventTypes []string                 `json:"trigger_event_types"`
	Conditions        automation.ConditionTree `json:"conditions"`
	Expression        string                   `json:"expression"`
	Actions           []automation.ActionSpec  `json:"actions"`
	Enabled           *bool                    `json:"is_enabled"`
	Priority          int                      `json:"priority"`
	Mode              string                   `json:"execution_mode"`
}

// toDomainRule converts a request to a rule. is_enabled defaults to true.
func toDomainRule(req ruleRequest) *automation.Rule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &automation.Rule{
		TenantID:          req.TenantID,
		Name:              req.Name,
		Description:       req.Description,
		TriggerEventTypes: req.TriggerEventTypes,
		Conditions:        req.Conditions,
		Expression:        req.Expression,
		Actions:           req.Actions,
		Enabled:           enabled,
		Priority:          req.Priority,
		Mode:              automation.ExecutionMode(req.Mode),
	}
}

// respondRuleError maps rule service errors to status codes.
func (h *AdminAPIHandler) respondRuleError(w http.ResponseWriter, err error, op, id string) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound):
		h.respondError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, automation.ErrInvalidRule):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("failed to "+op+" rule", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to "+op+" rule")
	}
}

// handleListRules returns the tenant's rules.
// GET /admin/api/rules?tenant=&event_type=&enabled=true
func (h *AdminAPIHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return
	}

	filter := automation.RuleFilter{EventType: r.URL.Query().Get("event_type")}
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabledOnly, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "enabled must be a boolean")
			return
		}
		filter.EnabledOnly = enabledOnly
	}

	rules, err := h.rules.List(r.Context(), tenantID, filter)
	if err != nil {
		h.respondRuleError(w, err, "list", "")
		return
	}
	if rules == nil {
		rules = []automation.Rule{}
	}
	h.respondJSON(w, http.StatusOK, rules)
}

// handleGetRule returns a single rule.
// GET /admin/api/rules/{id}
func (h *AdminAPIHandler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

// handleCreateRule creates a rule in the caller's tenant.
// POST /admin/api/rules
func (h *AdminAPIHandler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if tenantID == "" && req.TenantID == "" {
		h.respondError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	created, err := h.rules.Create(r.Context(), tenantID, toDomainRule(req))
	if err != nil {
		h.respondRuleError(w, err, "create", "")
		return
	}
	h.logger.Info("rule created via API", "id", created.ID, "tenant", created.TenantID, "caller", callerName(r))
	h.respondJSON(w, http.StatusCreated, created)
}

// handleUpdateRule replaces a rule's definition, keeping its statistics.
// PUT /admin/api/rules/{id}
func (h *AdminAPIHandler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return
	}
	id := h.pathParam(r, "id")

	var req ruleRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	updated, err := h.rules.Update(r.Context(), tenantID, id, toDomainRule(req))
	if err != nil {
		h.respondRuleError(w, err, "update", id)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// handleDeleteRule removes a rule.
// DELETE /admin/api/rules/{id}
func (h *AdminAPIHandler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return
	}
	id := h.pathParam(r, "id")

	if err := h.rules.Delete(r.Context(), tenantID, id); err != nil {
		h.respondRuleError(w, err, "delete", id)
		return
	}
	h.logger.Info("rule deleted via API", "id", id, "caller", callerName(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleEnableRule turns a rule on.
// POST /admin/api/rules/{id}/enable
func (h *AdminAPIHandler) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	h.toggleRule(w, r, true)
}

// handleDisableRule turns a rule off.
// POST /admin/api/rules/{id}/disable
func (h *AdminAPIHandler) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	h.toggleRule(w, r, false)
}

func (h *AdminAPIHandler) toggleRule(w http.ResponseWriter, r *http.Request, enabled bool) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return
	}
	id := h.pathParam(r, "id")

	var (
		rule *automation.Rule
		err  error
	)
	if enabled {
		rule, err = h.rules.Enable(r.Context(), tenantID, id)
	} else {
		rule, err = h.rules.Disable(r.Context(), tenantID, id)
	}
	if err != nil {
		h.respondRuleError(w, err, "toggle", id)
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

// validateResponse is the JSON response for POST /admin/api/rules/validate.
type validateResponse struct {
	Valid bool             `json:"valid"`
	Error string           `json:"error,omitempty"`
	Rule  *automation.Rule `json:"rule,omitempty"`
}

// handleValidateRule checks a rule definition without saving it and echoes
// it back with defaults applied.
// POST /admin/api/rules/validate
func (h *AdminAPIHandler) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	rule := toDomainRule(req)
	if tenantID != "" {
		rule.TenantID = tenantID
	}
	if err := h.rules.Validate(rule); err != nil {
		h.respondJSON(w, http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
		return
	}
	h.respondJSON(w, http.StatusOK, validateResponse{Valid: true, Rule: rule})
}

// loadRule fetches the {id} rule within the caller's tenant scope, writing
// the error response itself when it fails.
func (h *AdminAPIHandler) loadRule(w http.ResponseWriter, r *http.Request) (*automation.Rule, bool) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return nil, false
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return nil, false
	}
	id := h.pathParam(r, "id")
	rule, err := h.rules.Get(r.Context(), tenantID, id)
	if err != nil {
		h.respondRuleError(w, err, "get", id)
		return nil, false
	}
	return rule, true
}
