package service

import "github.com/complyflow/complyflow/internal/domain/event"

// samplePayload returns a fresh representative payload for a category.
func samplePayload(c event.Category) map[string]any {
	switch c {
	case event.CategoryAuth:
		return map[string]any{"user_id": "user-123", "ip_address": "203.0.113.10", "method": "password", "success": true}
	case event.CategoryPolicy:
		return map[string]any{"policy_id": "pol-001", "policy_name": "Information Security Policy", "version": "2.1", "severity": "high", "approver": "ciso"}
	case event.CategoryAction:
		return map[string]any{"action_id": "act-001", "title": "Patch exposed servers", "status": "open", "owner": "it-ops", "due_date": "2026-12-31"}
	case event.CategoryKPI:
		return map[string]any{"kpi_id": "kpi-001", "kpi_name": "Phishing click rate", "value": 12.5, "threshold": 10, "unit": "%"}
	case event.CategoryCampaign:
		return map[string]any{"campaign_id": "camp-001", "campaign_name": "Q4 awareness", "target_count": 250, "status": "active"}
	case event.CategoryTraining:
		return map[string]any{"training_id": "trn-001", "module": "GDPR basics", "user_id": "user-123", "score": 85, "passed": true}
	case event.CategoryAwareness:
		return map[string]any{"department": "finance", "score": 72, "previous_score": 80}
	case event.CategoryDocument:
		return map[string]any{"document_id": "doc-001", "document_name": "ISO 27001 SoA", "document_type": "evidence", "expires_at": "2026-12-31"}
	case event.CategoryCommittee:
		return map[string]any{"committee_id": "com-001", "committee_name": "Risk committee", "meeting_date": "2026-11-15", "decision": "approved"}
	case event.CategoryContent:
		return map[string]any{"content_id": "cnt-001", "title": "Password hygiene", "content_type": "article", "language": "en"}
	case event.CategoryCulture:
		return map[string]any{"survey_id": "srv-001", "respondents": 120, "score": 3.8}
	case event.CategoryObjective:
		return map[string]any{"objective_id": "obj-001", "title": "Reduce incidents by 20%", "progress": 45, "target": 100}
	case event.CategoryAlert:
		return map[string]any{"alert_id": "alr-001", "title": "Suspicious login burst", "severity": "high", "source": "siem"}
	case event.CategoryAdmin:
		return map[string]any{"actor": "admin@example.com", "target_user": "user-123", "old_role": "viewer", "new_role": "editor"}
	case event.CategoryGRC:
		return map[string]any{"risk_id": "risk-001", "risk_name": "Vendor data breach", "score": 16, "previous_score": 9, "owner": "dpo"}
	case event.CategoryPlatform:
		return map[string]any{"feature": "automation", "enabled": true}
	case event.CategoryAnalytics:
		return map[string]any{"report_id": "rpt-001", "report_type": "compliance_summary", "period": "2026-Q3"}
	case event.CategoryPhishing:
		return map[string]any{"simulation_id": "sim-001", "user_id": "user-123", "department": "sales", "template": "invoice"}
	default:
		return map[string]any{"component": "engine", "message": "sample system event", "severity": "info"}
	}
}
