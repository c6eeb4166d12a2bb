// Package workitem contains the records automation actions create:
// in-app notifications and follow-up items such as action plans and tasks.
package workitem

import (
	"context"
	"time"
)

// Kind distinguishes follow-up items.
type Kind string

const (
	KindActionPlan Kind = "action_plan"
	KindTask       Kind = "task"
)

// Notification is an in-app message delivered to a tenant's inbox.
type Notification struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	RuleID     string    `json:"rule_id,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Recipients []string  `json:"recipients,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Item is a follow-up record created by a rule (an action plan or a task).
type Item struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	TenantID    string         `json:"tenant_id"`
	RuleID      string         `json:"rule_id,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	DueDate     string         `json:"due_date,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Inbox stores notifications.
type Inbox interface {
	Deliver(ctx context.Context, n Notification) error
	// List returns the tenant's notifications, newest first. limit <= 0 means all.
	List(ctx context.Context, tenantID string, limit int) ([]Notification, error)
}

// Sink stores follow-up items.
type Sink interface {
	Create(ctx context.Context, item Item) error
	// List returns the tenant's items of kind (all kinds when empty), newest first.
	List(ctx context.Context, tenantID string, kind Kind) ([]Item, error)
}
