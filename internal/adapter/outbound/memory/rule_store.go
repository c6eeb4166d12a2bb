package memory

import (
	"context"
	"sync"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

// MemoryRuleStore implements automation.RuleStore with an in-memory map.
// Thread-safe for concurrent access. Rules are listed in insertion order.
type MemoryRuleStore struct {
	rules map[string]*automation.Rule // ID -> Rule
	order []string
	mu    sync.RWMutex
}

// NewRuleStore creates a new in-memory rule store.
func NewRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{
		rules: make(map[string]*automation.Rule),
	}
}

// ListRules returns the tenant's rules passing filter, in insertion order.
func (s *MemoryRuleStore) ListRules(ctx context.Context, tenantID string, filter automation.RuleFilter) ([]automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []automation.Rule
	for _, id := range s.order {
		r := s.rules[id]
		if tenantID != "" && r.TenantID != tenantID {
			continue
		}
		if !filter.Matches(r) {
			continue
		}
		// Return a copy to prevent mutation
		result = append(result, *r.Clone())
	}
	return result, nil
}

// GetRule returns a rule by ID.
// Returns automation.ErrRuleNotFound if the rule doesn't exist.
func (s *MemoryRuleStore) GetRule(ctx context.Context, id string) (*automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, automation.ErrRuleNotFound
	}
	return r.Clone(), nil
}

// SaveRule creates or updates a rule. On update the stored statistics and
// creation time win over whatever the caller passed.
func (s *MemoryRuleStore) SaveRule(ctx context.Context, r *automation.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := r.Clone()
	if existing, ok := s.rules[r.ID]; ok {
		stored.ExecutionCount = existing.ExecutionCount
		stored.LastExecutedAt = existing.LastExecutedAt
		stored.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, r.ID)
	}
	s.rules[r.ID] = stored
	return nil
}

// AddRule adds a rule as-is, statistics included (for testing/seeding).
func (s *MemoryRuleStore) AddRule(r *automation.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.rules[r.ID] = r.Clone()
}

// DeleteRule removes a rule by ID.
// Returns automation.ErrRuleNotFound if the rule doesn't exist.
func (s *MemoryRuleStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return automation.ErrRuleNotFound
	}
	delete(s.rules, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// IncrementExecution bumps the execution count under the write lock.
func (s *MemoryRuleStore) IncrementExecution(ctx context.Context, id string, at time.Time) (automation.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return automation.Stats{}, automation.ErrRuleNotFound
	}
	at = at.UTC()
	r.ExecutionCount++
	r.LastExecutedAt = &at
	return automation.Stats{ExecutionCount: r.ExecutionCount, LastExecutedAt: at}, nil
}

// Count returns the number of stored rules.
func (s *MemoryRuleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Compile-time interface verification.
var _ automation.RuleStore = (*MemoryRuleStore)(nil)
