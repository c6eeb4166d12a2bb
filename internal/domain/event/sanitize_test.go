package event

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType string
		wantErr   bool
	}{
		{"policy_approved", false},
		{"vendor.contract-renewed", false},
		{"CustomAudit2", false},
		{"", true},
		{"9lives", true},
		{"drop table", true},
		{"../../etc", true},
		{strings.Repeat("a", MaxTypeLength+1), true},
	}
	for _, tt := range tests {
		err := ValidateType(tt.eventType)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateType(%q) error = %v, wantErr %v", tt.eventType, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("ValidateType(%q) error = %v, want ErrInvalidEvent", tt.eventType, err)
		}
	}
}

func TestSanitize_CleansPayloadStrings(t *testing.T) {
	t.Parallel()

	e := Event{
		Type:     "control_failed",
		TenantID: "t1",
		Payload: map[string]any{
			"title\x00": "AC-2\x00 failed",
			"notes":     strings.Repeat("x", MaxStringLength+10),
			"owners":    []any{"ana\x00", map[string]any{"team": "it\x00"}},
			"score":     7,
		},
	}
	got, err := Sanitize(e)
	if err != nil {
		t.Fatalf("Sanitize() error: %v", err)
	}
	if got.Payload["title"] != "AC-2 failed" {
		t.Errorf("title = %q", got.Payload["title"])
	}
	if n := len(got.Payload["notes"].(string)); n != MaxStringLength {
		t.Errorf("notes length = %d, want %d", n, MaxStringLength)
	}
	owners := got.Payload["owners"].([]any)
	if owners[0] != "ana" || owners[1].(map[string]any)["team"] != "it" {
		t.Errorf("owners = %v", owners)
	}
	if got.Payload["score"] != 7 {
		t.Errorf("score = %v", got.Payload["score"])
	}
	if e.Payload["title\x00"] != "AC-2\x00 failed" {
		t.Error("Sanitize() modified the input payload")
	}
}

func TestSanitize_TruncatesAtRuneBoundary(t *testing.T) {
	t.Parallel()

	// "é" is two bytes; the limit falls in the middle of the last one.
	long := strings.Repeat("x", MaxStringLength-1) + "é" + "tail"
	got, err := Sanitize(Event{Type: "control_failed", TenantID: "t1", Payload: map[string]any{"notes": long}})
	if err != nil {
		t.Fatalf("Sanitize() error: %v", err)
	}
	notes := got.Payload["notes"].(string)
	if !utf8.ValidString(notes) {
		t.Error("truncated string is not valid UTF-8")
	}
	if len(notes) != MaxStringLength-1 {
		t.Errorf("notes length = %d, want %d", len(notes), MaxStringLength-1)
	}
}

func TestSanitize_RejectsDeepPayload(t *testing.T) {
	t.Parallel()

	var nested any = "leaf"
	for i := 0; i < MaxPayloadDepth+1; i++ {
		nested = map[string]any{"n": nested}
	}
	_, err := Sanitize(Event{Type: "alert_raised", TenantID: "t1", Payload: nested.(map[string]any)})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Sanitize() error = %v, want ErrInvalidEvent", err)
	}

	ok := map[string]any{"a": map[string]any{"b": []any{1, 2}}}
	if _, err := Sanitize(Event{Type: "alert_raised", TenantID: "t1", Payload: ok}); err != nil {
		t.Errorf("Sanitize() rejected a shallow payload: %v", err)
	}
}
