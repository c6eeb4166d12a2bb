package admin

import (
	"errors"
	"net/http"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/event"
)

// maxTestEvents bounds one test run.
const maxTestEvents = 100

// testRequest is the body of the rule test endpoints. Without events the
// rule is tested against its generated samples.
type testRequest struct {
	Rule   *ruleRequest  `json:"rule,omitempty"`
	Events []event.Event `json:"events"`
}

// handleSimulateRule runs a stored rule against one event.
// POST /admin/api/rules/{id}/simulate
//
// The body is an event envelope; omitted fields are defaulted and the tenant
// defaults to the rule's.
func (h *AdminAPIHandler) handleSimulateRule(w http.ResponseWriter, r *http.Request) {
	if !h.harnessReady(w) {
		return
	}
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	var ev event.Event
	if err := h.readJSON(w, r, &ev); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if ev.Type == "" {
		h.respondError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if !h.sameTenant(w, rule, ev) {
		return
	}

	h.respondJSON(w, http.StatusOK, h.harness.SimulateRuleExecution(r.Context(), rule, ev))
}

// handleTestRule runs a stored rule against a list of events.
// POST /admin/api/rules/{id}/test
func (h *AdminAPIHandler) handleTestRule(w http.ResponseWriter, r *http.Request) {
	if !h.harnessReady(w) {
		return
	}
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	var req testRequest
	if err := h.readJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	h.runTest(w, r, rule, req.Events)
}

// handleTestDraftRule validates an unsaved rule and runs it against events.
// POST /admin/api/harness/test
func (h *AdminAPIHandler) handleTestDraftRule(w http.ResponseWriter, r *http.Request) {
	if !h.harnessReady(w) {
		return
	}
	rule, req, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	h.runTest(w, r, rule, req.Events)
}

// handleRuleSamples returns sample events for a stored rule.
// GET /admin/api/rules/{id}/samples
func (h *AdminAPIHandler) handleRuleSamples(w http.ResponseWriter, r *http.Request) {
	if !h.harnessReady(w) {
		return
	}
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, h.harness.GenerateSampleEvents(rule))
}

// handleDraftSamples returns sample events for an unsaved rule.
// POST /admin/api/harness/samples
func (h *AdminAPIHandler) handleDraftSamples(w http.ResponseWriter, r *http.Request) {
	if !h.harnessReady(w) {
		return
	}
	rule, _, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, h.harness.GenerateSampleEvents(rule))
}

func (h *AdminAPIHandler) runTest(w http.ResponseWriter, r *http.Request, rule *automation.Rule, events []event.Event) {
	if len(events) > maxTestEvents {
		h.respondError(w, http.StatusBadRequest, "too many events")
		return
	}
	if len(events) == 0 {
		events = h.harness.GenerateSampleEvents(rule)
	}
	for _, ev := range events {
		if !h.sameTenant(w, rule, ev) {
			return
		}
	}
	h.respondJSON(w, http.StatusOK, h.harness.TestRuleWithEvents(r.Context(), rule, events))
}

// readDraft decodes {"rule": ..., "events": [...]} and validates the rule
// within the caller's tenant.
func (h *AdminAPIHandler) readDraft(w http.ResponseWriter, r *http.Request) (*automation.Rule, testRequest, bool) {
	if h.rules == nil {
		h.respondError(w, http.StatusInternalServerError, "rule service not configured")
		return nil, testRequest{}, false
	}
	tenantID, ok := h.scopedTenant(w, r)
	if !ok {
		return nil, testRequest{}, false
	}

	var req testRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, req, false
	}
	if req.Rule == nil {
		h.respondError(w, http.StatusBadRequest, "rule is required")
		return nil, req, false
	}

	rule := toDomainRule(*req.Rule)
	if tenantID != "" {
		rule.TenantID = tenantID
	}
	if rule.TenantID == "" {
		rule.TenantID = "draft"
	}
	if err := h.rules.Validate(rule); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return nil, req, false
	}
	return rule, req, true
}

// sameTenant rejects events addressed to a tenant other than the rule's.
func (h *AdminAPIHandler) sameTenant(w http.ResponseWriter, rule *automation.Rule, ev event.Event) bool {
	if ev.TenantID != "" && ev.TenantID != rule.TenantID {
		h.respondError(w, http.StatusBadRequest, "event tenant_id does not match the rule")
		return false
	}
	return true
}

func (h *AdminAPIHandler) harnessReady(w http.ResponseWriter) bool {
	if h.harness == nil {
		h.respondError(w, http.StatusInternalServerError, "test harness not configured")
		return false
	}
	return true
}
