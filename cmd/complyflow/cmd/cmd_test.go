package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/complyflow/complyflow/internal/config"
	"github.com/complyflow/complyflow/internal/domain/auth"
	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/service"
)

const testRules = `
rules:
  - id: escalate-incidents
    tenant_id: acme
    rule_name: Escalate critical incidents
    trigger_event_types: [incident_reported]
    conditions:
      logic: AND
      rules:
        - {field: severity, operator: eq, value: critical}
        - {field: affected_users, operator: gte, value: 100}
    actions:
      - action_type: send_notification
        config:
          title: "Incident {{title}}"
          recipients: [ciso@example.com]
`

const testEvents = `[
  {"event_type": "incident_reported", "payload": {"severity": "critical", "affected_users": 250, "title": "Outage"}},
  {"event_type": "incident_reported", "payload": {"severity": "low", "affected_users": 250}},
  {"event_type": "risk_created", "payload": {"severity": "critical", "affected_users": 250}}
]`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands_Registered(t *testing.T) {
	want := []string{"start", "simulate", "validate", "samples", "hash-key", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestSimulateCmd(t *testing.T) {
	rules := writeTemp(t, "rules.yaml", testRules)
	events := writeTemp(t, "events.json", testEvents)

	out, err := execute(t, "simulate", "--rules", rules, "--events", events)
	if err != nil {
		t.Fatalf("simulate error: %v\n%s", err, out)
	}

	var reports []service.TestReport
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("output is not a JSON report: %v\n%s", err, out)
	}
	if len(reports) != 1 || len(reports[0].Results) != 3 {
		t.Fatalf("reports = %+v", reports)
	}
	want := []struct{ triggered, matched bool }{
		{true, true},
		{true, false},
		{false, true},
	}
	for i, w := range want {
		got := reports[0].Results[i]
		if got.Triggered != w.triggered || got.Matched != w.matched {
			t.Errorf("event %d: triggered=%v matched=%v, want %v %v", i, got.Triggered, got.Matched, w.triggered, w.matched)
		}
	}
	if a := reports[0].Results[0].Result.ActionResults; len(a) != 1 || !a[0].DryRun {
		t.Errorf("action results = %+v, want one dry run", a)
	}
}

func TestSimulateCmd_UnknownRule(t *testing.T) {
	rules := writeTemp(t, "rules.yaml", testRules)
	events := writeTemp(t, "events.json", testEvents)
	defer func() { simulateRuleID = "" }()

	if _, err := execute(t, "simulate", "--rules", rules, "--events", events, "--rule", "missing"); err == nil {
		t.Error("simulate with an unknown --rule should fail")
	}
}

func TestLoadEvents_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not an array", `{"event_type": "risk_created"}`},
		{"missing type", `[{"payload": {}}]`},
		{"malformed", `[{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadEvents(writeTemp(t, "events.json", tt.content)); err == nil {
				t.Error("loadEvents() expected error")
			}
		})
	}
}

func TestValidateCmd(t *testing.T) {
	out, err := execute(t, "validate", writeTemp(t, "rules.yaml", testRules))
	if err != nil {
		t.Fatalf("validate error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 rules valid") {
		t.Errorf("output = %q", out)
	}

	bad := strings.Replace(testRules, "operator: eq", "operator: like", 1)
	out, err = execute(t, "validate", writeTemp(t, "bad.yaml", bad))
	if err == nil {
		t.Fatal("validate should fail for an unknown operator")
	}
	if !strings.Contains(out, "FAIL") {
		t.Errorf("output = %q, want FAIL line", out)
	}
}

func TestSamplesCmd(t *testing.T) {
	out, err := execute(t, "samples", writeTemp(t, "rules.yaml", testRules))
	if err != nil {
		t.Fatalf("samples error: %v", err)
	}
	var got []ruleSamples
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0].RuleID != "escalate-incidents" || len(got[0].Events) != 1 {
		t.Fatalf("samples = %+v", got)
	}
	ev := got[0].Events[0]
	if ev.Type != "incident_reported" || ev.TenantID != "acme" || ev.Payload["severity"] != "critical" {
		t.Errorf("sample event = %+v", ev)
	}
}

func TestHashAPIKey(t *testing.T) {
	sha, err := hashAPIKey("test-key", true)
	if err != nil {
		t.Fatalf("hashAPIKey(sha256) error: %v", err)
	}
	if sha != "sha256:"+auth.HashKey("test-key") {
		t.Errorf("sha256 hash = %q", sha)
	}

	phc, err := hashAPIKey("test-key", false)
	if err != nil {
		t.Fatalf("hashAPIKey(argon2id) error: %v", err)
	}
	if !strings.HasPrefix(phc, "$argon2id$") {
		t.Errorf("argon2id hash = %q", phc)
	}
	if ok, err := auth.VerifyKey("test-key", phc); err != nil || !ok {
		t.Errorf("VerifyKey() = %v, %v", ok, err)
	}
}

func TestBuildKeyring(t *testing.T) {
	ctx := context.Background()

	kr, err := buildKeyring(nil)
	if err != nil || kr != nil {
		t.Fatalf("buildKeyring(nil) = %v, %v, want nil keyring", kr, err)
	}

	kr, err = buildKeyring([]config.APIKeyConfig{
		{Name: "auditor", KeyHash: "sha256:" + auth.HashKey("live"), Roles: []string{"read-only"}, Tenants: []string{"acme"}},
		{Name: "old", KeyHash: "sha256:" + auth.HashKey("old"), Roles: []string{"admin"}, ExpiresAt: "2020-01-01T00:00:00Z"},
	})
	if err != nil {
		t.Fatalf("buildKeyring() error: %v", err)
	}
	id, err := kr.Validate(ctx, "live")
	if err != nil {
		t.Fatalf("Validate(live) error: %v", err)
	}
	if id.Name != "auditor" || !id.HasRole(auth.RoleReadOnly) || !id.CanAccessTenant("acme") || id.CanAccessTenant("other") {
		t.Errorf("identity = %+v", id)
	}
	if _, err := kr.Validate(ctx, "old"); err == nil {
		t.Error("expired key validated")
	}

	if _, err := buildKeyring([]config.APIKeyConfig{{Name: "x", KeyHash: "sha256:00", Roles: []string{"admin"}, ExpiresAt: "tomorrow"}}); err == nil {
		t.Error("buildKeyring() accepted a malformed expires_at")
	}
}

func TestCreateExecutionStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "executions.jsonl")
		cfg := &config.Config{ExecutionLog: config.ExecutionLogConfig{File: path, MaxSizeMB: 1, BufferSize: 10}}
		store, err := createExecutionStore(cfg, logger)
		if err != nil {
			t.Fatalf("createExecutionStore() error: %v", err)
		}
		rec := automation.ExecutionRecord{
			TenantID:   "acme",
			EventType:  "risk_created",
			Status:     automation.StatusSucceeded,
			Result:     automation.ExecutionResult{RuleID: "r1", EventID: "e1", Matched: true},
			RecordedAt: time.Now().UTC(),
		}
		if err := store.Record(context.Background(), rec); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read execution log: %v", err)
		}
		if !strings.Contains(string(data), `"r1"`) {
			t.Errorf("execution log = %q", data)
		}
	})

	t.Run("memory only", func(t *testing.T) {
		store, err := createExecutionStore(&config.Config{}, logger)
		if err != nil || store == nil {
			t.Fatalf("createExecutionStore() = %v, %v", store, err)
		}
	})

	t.Run("uri rejected", func(t *testing.T) {
		cfg := &config.Config{ExecutionLog: config.ExecutionLogConfig{File: "file:///tmp/x"}}
		if _, err := createExecutionStore(cfg, logger); err == nil {
			t.Error("createExecutionStore() accepted a file:// URI")
		}
	})
}

func TestIngestSources(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ingest.NATS = config.NATSConfig{Enabled: true, Subject: "grc.events"}
	cfg.Ingest.Kafka = config.KafkaConfig{Topic: "ignored"}
	got := strings.Join(ingestSources(cfg), ",")
	if got != "http,nats:grc.events" {
		t.Errorf("ingestSources() = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
