package action

import (
	"reflect"
	"testing"
)

func mapResolver(values map[string]any) Resolver {
	return func(name string) (any, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestRenderString(t *testing.T) {
	t.Parallel()

	resolve := mapResolver(map[string]any{
		"title":        "Access review",
		"score":        17,
		"owner.team":   "finance",
		"previous.url": "https://grc.example.com/plans/9",
		"missing":      nil,
	})

	tests := []struct {
		name string
		in   string
		want any
	}{
		{"no placeholder", "plain text", "plain text"},
		{"whole string keeps type", "{{score}}", 17},
		{"whole string with spaces", "{{ owner.team }}", "finance"},
		{"embedded", "Review {{title}} ({{score}})", "Review Access review (17)"},
		{"previous result", "See {{previous.url}}", "See https://grc.example.com/plans/9"},
		{"unresolved whole", "{{nope}}", "{{nope}}"},
		{"unresolved embedded", "a {{nope}} b", "a {{nope}} b"},
		{"nil value embedded", "x{{missing}}y", "xy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RenderString(tt.in, resolve); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RenderString(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRender_Nested(t *testing.T) {
	t.Parallel()

	config := map[string]any{
		"title":      "Fix {{title}}",
		"recipients": []string{"{{owner}}", "ciso@example.com"},
		"body":       map[string]any{"items": []any{"{{score}}", 3}},
	}
	got := Render(config, mapResolver(map[string]any{"title": "AC-2", "owner": "ana@example.com", "score": 5}))

	want := map[string]any{
		"title":      "Fix AC-2",
		"recipients": []any{"ana@example.com", "ciso@example.com"},
		"body":       map[string]any{"items": []any{5, 3}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Render() = %#v, want %#v", got, want)
	}
	if config["title"] != "Fix {{title}}" {
		t.Error("Render() modified its input")
	}
	if out := Render(nil, mapResolver(nil)); out == nil || len(out) != 0 {
		t.Errorf("Render(nil) = %#v, want empty map", out)
	}
}
