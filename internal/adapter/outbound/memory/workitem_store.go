package memory

import (
	"context"
	"sync"

	"github.com/complyflow/complyflow/internal/domain/workitem"
)

// MemoryInbox implements workitem.Inbox. Thread-safe.
type MemoryInbox struct {
	mu    sync.RWMutex
	items []workitem.Notification
}

// NewInbox creates an empty inbox.
func NewInbox() *MemoryInbox {
	return &MemoryInbox{}
}

// Deliver appends n to the inbox.
func (s *MemoryInbox) Deliver(ctx context.Context, n workitem.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.Recipients = append([]string(nil), n.Recipients...)
	s.items = append(s.items, n)
	return nil
}

// List returns the tenant's notifications, newest first.
func (s *MemoryInbox) List(ctx context.Context, tenantID string, limit int) ([]workitem.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []workitem.Notification
	for i := len(s.items) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		n := s.items[i]
		if tenantID != "" && n.TenantID != tenantID {
			continue
		}
		n.Recipients = append([]string(nil), n.Recipients...)
		result = append(result, n)
	}
	return result, nil
}

// MemoryItemStore implements workitem.Sink. Thread-safe.
type MemoryItemStore struct {
	mu    sync.RWMutex
	items []workitem.Item
}

// NewItemStore creates an empty item store.
func NewItemStore() *MemoryItemStore {
	return &MemoryItemStore{}
}

// Create stores item.
func (s *MemoryItemStore) Create(ctx context.Context, item workitem.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, copyItem(item))
	return nil
}

// List returns the tenant's items of kind, newest first.
func (s *MemoryItemStore) List(ctx context.Context, tenantID string, kind workitem.Kind) ([]workitem.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []workitem.Item
	for i := len(s.items) - 1; i >= 0; i-- {
		it := s.items[i]
		if tenantID != "" && it.TenantID != tenantID {
			continue
		}
		if kind != "" && it.Kind != kind {
			continue
		}
		result = append(result, copyItem(it))
	}
	return result, nil
}

func copyItem(it workitem.Item) workitem.Item {
	if it.Fields != nil {
		fields := make(map[string]any, len(it.Fields))
		for k, v := range it.Fields {
			fields[k] = v
		}
		it.Fields = fields
	}
	return it
}

// Compile-time interface verification.
var (
	_ workitem.Inbox = (*MemoryInbox)(nil)
	_ workitem.Sink  = (*MemoryItemStore)(nil)
)
