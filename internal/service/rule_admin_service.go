package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

// ExpressionValidator checks a guard expression at save time.
type ExpressionValidator interface {
	ValidateExpression(expr string) error
}

// RuleAdminService provides CRUD operations on automation rules with eager
// validation. Every tenantID argument scopes the operation: a rule of another
// tenant is reported as not found. An empty tenantID means unscoped access.
type RuleAdminService struct {
	store       automation.RuleStore
	knownAction automation.ActionTypeChecker
	expressions ExpressionValidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewRuleAdminService creates a RuleAdminService. knownAction and expressions
// may be nil to skip the action type and guard expression checks.
func NewRuleAdminService(store automation.RuleStore, knownAction automation.ActionTypeChecker, expressions ExpressionValidator, logger *slog.Logger) *RuleAdminService {
	return &RuleAdminService{
		store:       store,
		knownAction: knownAction,
		expressions: expressions,
		logger:      logger,
		now:         time.Now,
	}
}

// List returns the tenant's rules in store order.
func (s *RuleAdminService) List(ctx context.Context, tenantID string, filter automation.RuleFilter) ([]automation.Rule, error) {
	rules, err := s.store.ListRules(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// Get returns a single rule.
// Returns automation.ErrRuleNotFound if it does not exist in the tenant.
func (s *RuleAdminService) Get(ctx context.Context, tenantID, id string) (*automation.Rule, error) {
	r, err := s.store.GetRule(ctx, id)
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			return nil, automation.ErrRuleNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	if tenantID != "" && r.TenantID != tenantID {
		return nil, automation.ErrRuleNotFound
	}
	return r, nil
}

// Create validates and stores a new rule with a fresh ID. Statistics start
// at zero regardless of what the caller sent.
func (s *RuleAdminService) Create(ctx context.Context, tenantID string, r *automation.Rule) (*automation.Rule, error) {
	if tenantID != "" {
		r.TenantID = tenantID
	}
	now := s.now().UTC()
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.ExecutionCount = 0
	r.LastExecutedAt = nil

	if err := s.Validate(r); err != nil {
		return nil, err
	}
	if err := s.store.SaveRule(ctx, r); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}

	s.logger.Info("rule created", "id", r.ID, "name", r.Name, "tenant", r.TenantID)
	return s.store.GetRule(ctx, r.ID)
}

// Update replaces the definition of an existing rule. ID, tenant, creation
// time and statistics are preserved.
func (s *RuleAdminService) Update(ctx context.Context, tenantID, id string, r *automation.Rule) (*automation.Rule, error) {
	existing, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	r.ID = id
	r.TenantID = existing.TenantID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now().UTC()
	r.ExecutionCount = existing.ExecutionCount
	r.LastExecutedAt = existing.LastExecutedAt

	if err := s.Validate(r); err != nil {
		return nil, err
	}
	if err := s.store.SaveRule(ctx, r); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}

	s.logger.Info("rule updated", "id", id, "name", r.Name)
	return s.store.GetRule(ctx, id)
}

// Delete removes a rule.
func (s *RuleAdminService) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.logger.Info("rule deleted", "id", id)
	return nil
}

// Enable turns a rule on.
func (s *RuleAdminService) Enable(ctx context.Context, tenantID, id string) (*automation.Rule, error) {
	return s.setEnabled(ctx, tenantID, id, true)
}

// Disable turns a rule off. A disabled rule is never a candidate.
func (s *RuleAdminService) Disable(ctx context.Context, tenantID, id string) (*automation.Rule, error) {
	return s.setEnabled(ctx, tenantID, id, false)
}

func (s *RuleAdminService) setEnabled(ctx context.Context, tenantID, id string, enabled bool) (*automation.Rule, error) {
	r, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if r.Enabled == enabled {
		return r, nil
	}
	r.Enabled = enabled
	r.UpdatedAt = s.now().UTC()
	if err := s.store.SaveRule(ctx, r); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	s.logger.Info("rule toggled", "id", id, "enabled", enabled)
	return s.store.GetRule(ctx, id)
}

// Validate applies defaults (AND logic, immediate mode) and checks r the way
// Create and Update do, without saving it.
func (s *RuleAdminService) Validate(r *automation.Rule) error {
	if r.Conditions.Logic == "" {
		r.Conditions.Logic = automation.LogicAnd
	}
	r.Conditions.Logic = r.Conditions.Logic.Normalize()
	if r.Mode == "" {
		r.Mode = automation.ModeImmediate
	}
	if err := automation.Validate(r, s.knownAction); err != nil {
		return err
	}
	if r.Expression != "" {
		if s.expressions == nil {
			return fmt.Errorf("%w: guard expressions are not enabled", automation.ErrInvalidRule)
		}
		if err := s.expressions.ValidateExpression(r.Expression); err != nil {
			return fmt.Errorf("%w: %v", automation.ErrInvalidRule, err)
		}
	}
	return nil
}

// SeedRules stores rules when the store holds none for any of their tenants,
// so a restart with a durable store does not duplicate them. Rules without an
// ID get one. It returns the number of rules stored.
func (s *RuleAdminService) SeedRules(ctx context.Context, rules []automation.Rule) (int, error) {
	seeded := make(map[string]bool)
	for _, r := range rules {
		if _, done := seeded[r.TenantID]; done {
			continue
		}
		existing, err := s.store.ListRules(ctx, r.TenantID, automation.RuleFilter{})
		if err != nil {
			return 0, fmt.Errorf("list rules: %w", err)
		}
		seeded[r.TenantID] = len(existing) == 0
	}

	n := 0
	now := s.now().UTC()
	for i := range rules {
		r := rules[i].Clone()
		if !seeded[r.TenantID] {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		if err := s.Validate(r); err != nil {
			return n, fmt.Errorf("seed rule %q: %w", r.Name, err)
		}
		if err := s.store.SaveRule(ctx, r); err != nil {
			return n, fmt.Errorf("save rule: %w", err)
		}
		n++
	}
	if n > 0 {
		s.logger.Info("seeded rules", "count", n)
	}
	return n, nil
}
