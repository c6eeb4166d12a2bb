// Package event contains the immutable event envelope consumed by the rule engine.
package event

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned when an event envelope is malformed.
var ErrInvalidEvent = errors.New("invalid event")

// Category is the coarse grouping of an event.
type Category string

const (
	CategoryAuth      Category = "auth"
	CategoryPolicy    Category = "policy"
	CategoryAction    Category = "action"
	CategoryKPI       Category = "kpi"
	CategoryCampaign  Category = "campaign"
	CategoryTraining  Category = "training"
	CategoryAwareness Category = "awareness"
	CategoryDocument  Category = "document"
	CategoryCommittee Category = "committee"
	CategoryContent   Category = "content"
	CategoryCulture   Category = "culture"
	CategoryObjective Category = "objective"
	CategoryAlert     Category = "alert"
	CategorySystem    Category = "system"
	CategoryAdmin     Category = "admin"
	CategoryGRC       Category = "grc"
	CategoryPlatform  Category = "platform"
	CategoryAnalytics Category = "analytics"
	CategoryPhishing  Category = "phishing"
)

// Categories lists every known category in declaration order.
var Categories = []Category{
	CategoryAuth, CategoryPolicy, CategoryAction, CategoryKPI, CategoryCampaign,
	CategoryTraining, CategoryAwareness, CategoryDocument, CategoryCommittee,
	CategoryContent, CategoryCulture, CategoryObjective, CategoryAlert,
	CategorySystem, CategoryAdmin, CategoryGRC, CategoryPlatform,
	CategoryAnalytics, CategoryPhishing,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Priority is the urgency of an event.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Event is an immutable record of something that happened in a tenant.
// Producers create it once; nothing in the engine mutates it afterwards.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`
	// Type identifies what happened (e.g. "policy_approved").
	Type string `json:"event_type"`
	// Category is the coarse grouping of Type.
	Category Category `json:"event_category"`
	// TenantID scopes all matching and execution.
	TenantID string `json:"tenant_id"`
	// Payload holds the field values referenced by conditions and templates.
	Payload map[string]any `json:"payload"`
	// Priority is the urgency of the event.
	Priority Priority `json:"priority"`
	// OccurredAt is when the event happened (UTC).
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate checks that the envelope carries everything the engine relies on.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case e.Type == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	case e.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidEvent)
	case !e.Category.Valid():
		return fmt.Errorf("%w: unknown event_category %q", ErrInvalidEvent, e.Category)
	case !e.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidEvent, e.Priority)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidEvent)
	}
	return nil
}

// Field returns the payload value stored under key.
func (e Event) Field(key string) (any, bool) {
	v, ok := e.Payload[key]
	return v, ok
}
