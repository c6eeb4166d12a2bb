package action

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{field}} and {{ field.path }}.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Resolver looks up a placeholder name.
type Resolver func(name string) (any, bool)

// Render returns a copy of config with every {{name}} placeholder in its
// string values substituted through resolve. Maps and lists are rendered
// recursively. A string consisting of exactly one placeholder takes the
// resolved value with its original type; placeholders embedded in longer
// text are stringified. Unresolved placeholders are left as literal text.
// config is never modified.
func Render(config map[string]any, resolve Resolver) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = renderValue(v, resolve)
	}
	return out
}

func renderValue(v any, resolve Resolver) any {
	switch val := v.(type) {
	case string:
		return RenderString(val, resolve)
	case map[string]any:
		return Render(val, resolve)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = renderValue(item, resolve)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RenderString(item, resolve)
		}
		return out
	}
	return v
}

// RenderString substitutes placeholders in s. See Render for the rules.
func RenderString(s string, resolve Resolver) any {
	if !strings.Contains(s, "{{") {
		return s
	}

	if m := placeholderPattern.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		name := s[m[2]:m[3]]
		if v, ok := resolve(name); ok {
			return v
		}
		return s
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := resolve(name)
		if !ok {
			return match
		}
		return stringify(v)
	})
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
