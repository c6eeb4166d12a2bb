package event

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits applied to producer envelopes.
const (
	// MaxStringLength is the maximum length of a payload string (64KB).
	// Longer strings are truncated.
	MaxStringLength = 64 << 10

	// MaxPayloadDepth is the deepest nesting of maps and lists accepted
	// in a payload.
	MaxPayloadDepth = 32

	// MaxTypeLength is the maximum length of an event type.
	MaxTypeLength = 128

	// MaxTenantLength is the maximum length of a tenant ID.
	MaxTenantLength = 255
)

// typePattern admits snake_case and dotted event types.
var typePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// ValidateType checks an event type name from a producer.
func ValidateType(eventType string) error {
	switch {
	case eventType == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	case len(eventType) > MaxTypeLength:
		return fmt.Errorf("%w: event_type too long", ErrInvalidEvent)
	case !typePattern.MatchString(eventType):
		return fmt.Errorf("%w: invalid event_type %q", ErrInvalidEvent, eventType)
	}
	return nil
}

// Sanitize cleans a producer envelope: it checks the event type and tenant
// ID and strips null bytes from payload strings, truncating those over
// MaxStringLength. Payloads nested deeper than MaxPayloadDepth are rejected.
func Sanitize(e Event) (Event, error) {
	if err := ValidateType(e.Type); err != nil {
		return Event{}, err
	}
	if len(e.TenantID) > MaxTenantLength || strings.ContainsFunc(e.TenantID, isControl) {
		return Event{}, fmt.Errorf("%w: invalid tenant_id", ErrInvalidEvent)
	}
	payload, err := sanitizeValue(e.Payload, 0)
	if err != nil {
		return Event{}, err
	}
	if payload != nil {
		e.Payload = payload.(map[string]any)
	}
	return e, nil
}

func sanitizeValue(v any, depth int) (any, error) {
	switch val := v.(type) {
	case string:
		return sanitizeString(val), nil

	case map[string]any:
		if depth >= MaxPayloadDepth {
			return nil, fmt.Errorf("%w: payload nested deeper than %d", ErrInvalidEvent, MaxPayloadDepth)
		}
		result := make(map[string]any, len(val))
		for k, item := range val {
			clean, err := sanitizeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			result[sanitizeString(k)] = clean
		}
		return result, nil

	case []any:
		if depth >= MaxPayloadDepth {
			return nil, fmt.Errorf("%w: payload nested deeper than %d", ErrInvalidEvent, MaxPayloadDepth)
		}
		result := make([]any, len(val))
		for i, item := range val {
			clean, err := sanitizeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			result[i] = clean
		}
		return result, nil

	default:
		// Numbers, booleans, nil pass through unchanged
		return v, nil
	}
}

// sanitizeString removes null bytes and truncates oversized strings at a
// rune boundary.
func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > MaxStringLength {
		cut := MaxStringLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
