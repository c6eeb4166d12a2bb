package admin

import (
	"net/http"
	"strconv"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/workitem"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// listLimit parses ?limit=, defaulting to 100 and capping at 1000.
func listLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

// handleListExecutions returns the newest genuine rule dispatches.
// GET /admin/api/executions?tenant=&rule_id=&limit=
func (h *AdminAPIHandler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusInternalServerError, "execution history not configured")
		return
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return
	}
	limit, ok := listLimit(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	records := h.history.Recent(automation.ExecutionFilter{
		TenantID: tenantID,
		RuleID:   r.URL.Query().Get("rule_id"),
		Limit:    limit,
	})
	if records == nil {
		records = []automation.ExecutionRecord{}
	}
	h.respondJSON(w, http.StatusOK, records)
}

// handleListNotifications returns the tenant's in-app inbox.
// GET /admin/api/notifications?tenant=&limit=
func (h *AdminAPIHandler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		h.respondError(w, http.StatusInternalServerError, "inbox not configured")
		return
	}
	tenantID, ok := h.requiredTenant(w, r)
	if !ok {
		return
	}
	limit, ok := listLimit(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	notes, err := h.inbox.List(r.Context(), tenantID, limit)
	if err != nil {
		h.logger.Error("failed to list notifications", "error", err, "tenant", tenantID)
		h.respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if notes == nil {
		notes = []workitem.Notification{}
	}
	h.respondJSON(w, http.StatusOK, notes)
}

// handleListItems returns action plans and tasks created by rules.
// GET /admin/api/items?tenant=&kind=action_plan|task
func (h *AdminAPIHandler) handleListItems(w http.ResponseWriter, r *http.Request) {
	if h.items == nil {
		h.respondError(w, http.StatusInternalServerError, "item store not configured")
		return
	}
	tenantID, ok := h.requiredTenant(w, r)
	if !ok {
		return
	}

	kind := workitem.Kind(r.URL.Query().Get("kind"))
	if kind != "" && kind != workitem.KindActionPlan && kind != workitem.KindTask {
		h.respondError(w, http.StatusBadRequest, "kind must be action_plan or task")
		return
	}

	items, err := h.items.List(r.Context(), tenantID, kind)
	if err != nil {
		h.logger.Error("failed to list items", "error", err, "tenant", tenantID)
		h.respondError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []workitem.Item{}
	}
	h.respondJSON(w, http.StatusOK, items)
}

// requiredTenant is scopedTenant for endpoints that always act on one tenant.
func (h *AdminAPIHandler) requiredTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return "", false
	}
	if tenantID == "" {
		h.respondError(w, http.StatusBadRequest, "tenant is required")
		return "", false
	}
	return tenantID, true
}
