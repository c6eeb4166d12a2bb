// Package actions provides the built-in automation action handlers.
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

// NotificationHandler delivers send_notification actions to an inbox.
//
// Config keys: title (required), message (or body), recipients (string or
// list), severity (defaults to the event priority).
type NotificationHandler struct {
	inbox workitem.Inbox
	now   func() time.Time
}

// NewNotificationHandler creates a handler delivering to inbox.
func NewNotificationHandler(inbox workitem.Inbox) *NotificationHandler {
	return &NotificationHandler{inbox: inbox, now: time.Now}
}

// SupportsDryRun reports true: a dry run builds the notification without delivering it.
func (h *NotificationHandler) SupportsDryRun() bool { return true }

// Handle builds and delivers the notification.
func (h *NotificationHandler) Handle(ctx context.Context, config map[string]any, ec action.ExecContext) (map[string]any, error) {
	title := stringValue(config, "title")
	if title == "" {
		return nil, errors.New("title is required")
	}
	message := stringValue(config, "message")
	if message == "" {
		message = stringValue(config, "body")
	}
	severity := stringValue(config, "severity")
	if severity == "" {
		severity = string(ec.Event.Priority)
	}

	n := workitem.Notification{
		ID:         uuid.New().String(),
		TenantID:   ec.Event.TenantID,
		EventID:    ec.Event.ID,
		Title:      title,
		Message:    message,
		Recipients: stringList(config["recipients"]),
		Severity:   severity,
		CreatedAt:  h.now().UTC(),
	}
	if ec.Rule != nil {
		n.RuleID = ec.Rule.ID
	}

	result := map[string]any{
		"id":         n.ID,
		"title":      n.Title,
		"recipients": n.Recipients,
	}
	if ec.DryRun {
		result["delivered"] = false
		return result, nil
	}
	if err := h.inbox.Deliver(ctx, n); err != nil {
		return nil, fmt.Errorf("deliver notification: %w", err)
	}
	result["delivered"] = true
	return result, nil
}

// Compile-time interface verification.
var (
	_ action.Handler   = (*NotificationHandler)(nil)
	_ action.DryRunner = (*NotificationHandler)(nil)
)
