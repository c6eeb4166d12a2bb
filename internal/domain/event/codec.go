package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decode parses a JSON event envelope from a producer and fills the
// fields producers are allowed to omit: id, event_category (derived from
// event_type), priority (medium) and occurred_at (now). The result is
// sanitized and validated before it is returned.
func Decode(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var e Event
	if err := dec.Decode(&e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	e, err := Sanitize(e)
	if err != nil {
		return Event{}, err
	}
	e = Normalize(e, time.Now())
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Normalize returns a copy of e with defaults applied for omitted fields.
func Normalize(e Event, now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Category == "" {
		if c, ok := CategoryOf(e.Type); ok {
			e.Category = c
		}
	}
	e.Category = Category(strings.ToLower(string(e.Category)))
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	e.Priority = Priority(strings.ToLower(string(e.Priority)))
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e
}

// Encode marshals e to its JSON wire form.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
