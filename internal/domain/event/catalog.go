package event

import (
	"sort"
	"strings"
)

// knownTypes maps the event types emitted by the platform modules to
// their category. Types not listed fall back to prefix matching in CategoryOf.
var knownTypes = map[string]Category{
	"user_login":                  CategoryAuth,
	"user_logout":                 CategoryAuth,
	"login_failed":                CategoryAuth,
	"mfa_enabled":                 CategoryAuth,
	"policy_created":              CategoryPolicy,
	"policy_approved":             CategoryPolicy,
	"policy_rejected":             CategoryPolicy,
	"policy_published":            CategoryPolicy,
	"policy_acknowledged":         CategoryPolicy,
	"policy_review_due":           CategoryPolicy,
	"action_created":              CategoryAction,
	"action_completed":            CategoryAction,
	"action_overdue":              CategoryAction,
	"kpi_threshold_breached":      CategoryKPI,
	"kpi_updated":                 CategoryKPI,
	"campaign_launched":           CategoryCampaign,
	"campaign_completed":          CategoryCampaign,
	"training_assigned":           CategoryTraining,
	"training_completed":          CategoryTraining,
	"training_overdue":            CategoryTraining,
	"quiz_failed":                 CategoryTraining,
	"awareness_score_changed":     CategoryAwareness,
	"document_uploaded":           CategoryDocument,
	"document_expired":            CategoryDocument,
	"committee_meeting_scheduled": CategoryCommittee,
	"committee_decision_recorded": CategoryCommittee,
	"content_published":           CategoryContent,
	"culture_survey_submitted":    CategoryCulture,
	"objective_at_risk":           CategoryObjective,
	"objective_achieved":          CategoryObjective,
	"alert_raised":                CategoryAlert,
	"alert_resolved":              CategoryAlert,
	"system_error":                CategorySystem,
	"system_maintenance":          CategorySystem,
	"admin_role_changed":          CategoryAdmin,
	"tenant_settings_changed":     CategoryAdmin,
	"risk_created":                CategoryGRC,
	"risk_score_changed":          CategoryGRC,
	"audit_finding_created":       CategoryGRC,
	"control_failed":              CategoryGRC,
	"platform_feature_enabled":    CategoryPlatform,
	"report_generated":            CategoryAnalytics,
	"prediction_updated":          CategoryAnalytics,
	"phishing_link_clicked":       CategoryPhishing,
	"phishing_reported":           CategoryPhishing,
	"phishing_simulation_sent":    CategoryPhishing,
}

// CategoryOf returns the category an event type belongs to. Known types are
// looked up directly; otherwise the segment before the first underscore is
// matched against the category names ("training_reminder" -> training).
func CategoryOf(eventType string) (Category, bool) {
	if c, ok := knownTypes[eventType]; ok {
		return c, true
	}
	prefix, _, _ := strings.Cut(strings.ToLower(eventType), "_")
	c := Category(prefix)
	if c.Valid() {
		return c, true
	}
	return "", false
}

// KnownTypes returns the registered event types of a category, sorted.
func KnownTypes(c Category) []string {
	var types []string
	for t, cat := range knownTypes {
		if cat == c {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}
