package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/complyflow/complyflow/internal/domain/workitem"
)

// Inbox implements workitem.Inbox on SQLite.
type Inbox struct {
	db *DB
}

// NewInbox creates an inbox on db.
func NewInbox(db *DB) *Inbox {
	return &Inbox{db: db}
}

// Deliver stores n.
func (s *Inbox) Deliver(ctx context.Context, n workitem.Notification) error {
	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, rule_id, event_id, title, message, recipients, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.RuleID, n.EventID, n.Title, n.Message, string(recipients), n.Severity, formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// List returns the tenant's notifications, newest first.
func (s *Inbox) List(ctx context.Context, tenantID string, limit int) ([]workitem.Notification, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, rule_id, event_id, title, message, recipients, severity, created_at
		FROM notifications
		WHERE (?1 = '' OR tenant_id = ?1)
		ORDER BY seq DESC
		LIMIT ?2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []workitem.Notification
	for rows.Next() {
		var (
			n                   workitem.Notification
			recipients, created string
		)
		if err := rows.Scan(&n.ID, &n.TenantID, &n.RuleID, &n.EventID, &n.Title, &n.Message, &recipients, &n.Severity, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &n.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients of %s: %w", n.ID, err)
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("decode created_at of %s: %w", n.ID, err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// ItemStore implements workitem.Sink on SQLite.
type ItemStore struct {
	db *DB
}

// NewItemStore creates an item store on db.
func NewItemStore(db *DB) *ItemStore {
	return &ItemStore{db: db}
}

// Create stores item.
func (s *ItemStore) Create(ctx context.Context, item workitem.Item) error {
	fields := []byte("{}")
	if len(item.Fields) > 0 {
		var err error
		if fields, err = json.Marshal(item.Fields); err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
	}
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO work_items (id, kind, tenant_id, rule_id, event_id, title, description,
			assignee, due_date, priority, parent_id, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Kind), item.TenantID, item.RuleID, item.EventID, item.Title, item.Description,
		item.Assignee, item.DueDate, item.Priority, item.ParentID, string(fields), formatTime(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", item.Kind, err)
	}
	return nil
}

// List returns the tenant's items of kind (all kinds when empty), newest first.
func (s *ItemStore) List(ctx context.Context, tenantID string, kind workitem.Kind) ([]workitem.Item, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, kind, tenant_id, rule_id, event_id, title, description,
			assignee, due_date, priority, parent_id, fields, created_at
		FROM work_items
		WHERE (?1 = '' OR tenant_id = ?1) AND (?2 = '' OR kind = ?2)
		ORDER BY seq DESC`, tenantID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var result []workitem.Item
	for rows.Next() {
		var (
			it              workitem.Item
			kindStr         string
			fields, created string
		)
		if err := rows.Scan(&it.ID, &kindStr, &it.TenantID, &it.RuleID, &it.EventID, &it.Title, &it.Description,
			&it.Assignee, &it.DueDate, &it.Priority, &it.ParentID, &fields, &created); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		it.Kind = workitem.Kind(kindStr)
		if fields != "{}" {
			if err := json.Unmarshal([]byte(fields), &it.Fields); err != nil {
				return nil, fmt.Errorf("decode fields of %s: %w", it.ID, err)
			}
		}
		if it.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("decode created_at of %s: %w", it.ID, err)
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

// Compile-time interface verification.
var (
	_ workitem.Inbox = (*Inbox)(nil)
	_ workitem.Sink  = (*ItemStore)(nil)
)
