package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyflow/complyflow/internal/domain/action"
	"github.com/complyflow/complyflow/internal/domain/workitem"
)

// knownItemKeys are config keys mapped to Item fields; anything else is kept
// in Item.Fields.
var knownItemKeys = map[string]bool{
	"title": true, "name": true, "description": true, "assignee": true,
	"due_date": true, "due_in_days": true, "priority": true, "parent_id": true,
}

// ItemHandler creates follow-up items (create_action_plan, create_task).
//
// Config keys: title (or name, required), description, assignee, due_date
// (YYYY-MM-DD) or due_in_days, priority (defaults to the event priority),
// parent_id. Remaining keys are stored as custom fields.
type ItemHandler struct {
	kind workitem.Kind
	sink workitem.Sink
	now  func() time.Time
}

// NewActionPlanHandler creates the create_action_plan handler.
func NewActionPlanHandler(sink workitem.Sink) *ItemHandler {
	return &ItemHandler{kind: workitem.KindActionPlan, sink: sink, now: time.Now}
}

// NewTaskHandler creates the create_task handler.
func NewTaskHandler(sink workitem.Sink) *ItemHandler {
	return &ItemHandler{kind: workitem.KindTask, sink: sink, now: time.Now}
}

// SupportsDryRun reports true: a dry run returns the item without storing it.
func (h *ItemHandler) SupportsDryRun() bool { return true }

// Handle builds and stores the item. The result carries the new item's id so
// later actions can reference it as {{previous.id}}.
func (h *ItemHandler) Handle(ctx context.Context, config map[string]any, ec action.ExecContext) (map[string]any, error) {
	title := stringValue(config, "title")
	if title == "" {
		title = stringValue(config, "name")
	}
	if title == "" {
		return nil, errors.New("title is required")
	}

	now := h.now().UTC()
	due := stringValue(config, "due_date")
	if due == "" {
		if days, ok := intValue(config, "due_in_days"); ok {
			due = now.AddDate(0, 0, days).Format(time.DateOnly)
		}
	}
	priority := stringValue(config, "priority")
	if priority == "" {
		priority = string(ec.Event.Priority)
	}

	item := workitem.Item{
		ID:          uuid.New().String(),
		Kind:        h.kind,
		TenantID:    ec.Event.TenantID,
		EventID:     ec.Event.ID,
		Title:       title,
		Description: stringValue(config, "description"),
		Assignee:    stringValue(config, "assignee"),
		DueDate:     due,
		Priority:    priority,
		ParentID:    stringValue(config, "parent_id"),
		CreatedAt:   now,
	}
	if ec.Rule != nil {
		item.RuleID = ec.Rule.ID
	}
	for k, v := range config {
		if knownItemKeys[k] {
			continue
		}
		if item.Fields == nil {
			item.Fields = make(map[string]any)
		}
		item.Fields[k] = v
	}

	result := map[string]any{
		"id":    item.ID,
		"kind":  string(item.Kind),
		"title": item.Title,
	}
	if item.DueDate != "" {
		result["due_date"] = item.DueDate
	}
	if ec.DryRun {
		result["created"] = false
		return result, nil
	}
	if err := h.sink.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create %s: %w", h.kind, err)
	}
	result["created"] = true
	return result, nil
}

// Compile-time interface verification.
var (
	_ action.Handler   = (*ItemHandler)(nil)
	_ action.DryRunner = (*ItemHandler)(nil)
)
