package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

// BuildInfo holds build-time version information.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var unknownBuild = BuildInfo{Version: "dev", Commit: "none", BuildDate: "unknown"}

// RuleCounts summarizes the rules visible to the caller.
type RuleCounts struct {
	Tenant  string `json:"tenant,omitempty"`
	Total   int    `json:"total"`
	Enabled int    `json:"enabled"`
}

// SystemInfoResponse is the JSON response for GET /admin/api/system.
type SystemInfoResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	ActionTypes []string    `json:"action_types"`
	Rules       *RuleCounts `json:"rules,omitempty"`
	DevMode     bool        `json:"dev_mode"`
	Caller      string      `json:"caller"`
}

// GET /admin/api/system
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	build := unknownBuild
	if h.buildInfo != nil {
		build = *h.buildInfo
	}
	uptime := time.Since(h.startTime)

	resp := SystemInfoResponse{
		Version:   build.Version,
		Commit:    build.Commit,
		BuildDate: build.BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Uptime:    uptime.Truncate(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
		DevMode:   h.devMode,
		Caller:    callerName(r),
	}
	if h.actions != nil {
		resp.ActionTypes = h.actions()
	}
	if tenantID, ok := tenantScope(r); ok && h.rules != nil {
		resp.Rules = h.countRules(r, tenantID)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// countRules returns nil when the store cannot be listed; the rest of the
// system info is still useful.
func (h *AdminAPIHandler) countRules(r *http.Request, tenantID string) *RuleCounts {
	rules, err := h.rules.List(r.Context(), tenantID, automation.RuleFilter{})
	if err != nil {
		h.logger.Warn("system info: list rules failed", "tenant", tenantID, "error", err)
		return nil
	}
	counts := &RuleCounts{Tenant: tenantID, Total: len(rules)}
	for _, rule := range rules {
		if rule.Enabled {
			counts.Enabled++
		}
	}
	return counts
}
