package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

const ruleColumns = `id, tenant_id, name, description, trigger_event_types, conditions,
	expression, actions, is_enabled, priority, execution_mode, execution_count,
	last_executed_at, created_at, updated_at`

// RuleStore implements automation.RuleStore on SQLite. Rules are listed in
// insertion order (the seq column).
type RuleStore struct {
	db *DB
}

// NewRuleStore creates a rule store on db.
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

// ListRules returns the tenant's rules passing filter, in insertion order.
// An empty tenantID lists every tenant.
func (s *RuleStore) ListRules(ctx context.Context, tenantID string, filter automation.RuleFilter) ([]automation.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE (?1 = '' OR tenant_id = ?1)`
	if filter.EnabledOnly {
		query += ` AND is_enabled = 1`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var result []automation.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(r) {
			result = append(result, *r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return result, nil
}

// GetRule returns a rule by ID or automation.ErrRuleNotFound.
func (s *RuleStore) GetRule(ctx context.Context, id string) (*automation.Rule, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automation.ErrRuleNotFound
	}
	return r, err
}

// SaveRule inserts or updates a rule. Statistics and created_at are never
// overwritten by an update.
func (s *RuleStore) SaveRule(ctx context.Context, r *automation.Rule) error {
	triggers, err := json.Marshal(r.TriggerEventTypes)
	if err != nil {
		return fmt.Errorf("encode triggers: %w", err)
	}
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO rules (id, tenant_id, name, description, trigger_event_types, conditions,
			expression, actions, is_enabled, priority, execution_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			description = excluded.description,
			trigger_event_types = excluded.trigger_event_types,
			conditions = excluded.conditions,
			expression = excluded.expression,
			actions = excluded.actions,
			is_enabled = excluded.is_enabled,
			priority = excluded.priority,
			execution_mode = excluded.execution_mode,
			updated_at = excluded.updated_at`,
		r.ID, r.TenantID, r.Name, r.Description, string(triggers), string(conditions),
		r.Expression, string(actions), r.Enabled, r.Priority, string(r.EffectiveMode()),
		formatTime(created), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes a rule or returns automation.ErrRuleNotFound.
func (s *RuleStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automation.ErrRuleNotFound
	}
	return nil
}

// IncrementExecution increments the counter in a single UPDATE so concurrent
// dispatches never lose an increment.
func (s *RuleStore) IncrementExecution(ctx context.Context, id string, at time.Time) (automation.Stats, error) {
	at = at.UTC()
	var count int64
	err := s.db.db.QueryRowContext(ctx, `
		UPDATE rules
		SET execution_count = execution_count + 1, last_executed_at = ?
		WHERE id = ?
		RETURNING execution_count`,
		formatTime(at), id,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.Stats{}, automation.ErrRuleNotFound
	}
	if err != nil {
		return automation.Stats{}, fmt.Errorf("increment execution %s: %w", id, err)
	}
	return automation.Stats{ExecutionCount: count, LastExecutedAt: at}, nil
}

// Count returns the number of stored rules.
func (s *RuleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (*automation.Rule, error) {
	var (
		r                             automation.Rule
		triggers, conditions, actions string
		mode, created, updated        string
		lastExecuted                  sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &triggers, &conditions,
		&r.Expression, &actions, &r.Enabled, &r.Priority, &mode, &r.ExecutionCount,
		&lastExecuted, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	r.Mode = automation.ExecutionMode(mode)

	if err := json.Unmarshal([]byte(triggers), &r.TriggerEventTypes); err != nil {
		return nil, fmt.Errorf("decode triggers of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("decode actions of %s: %w", r.ID, err)
	}

	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("decode created_at of %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("decode updated_at of %s: %w", r.ID, err)
	}
	if lastExecuted.Valid {
		t, err := parseTime(lastExecuted.String)
		if err != nil {
			return nil, fmt.Errorf("decode last_executed_at of %s: %w", r.ID, err)
		}
		r.LastExecutedAt = &t
	}
	return &r, nil
}

// Compile-time interface verification.
var _ automation.RuleStore = (*RuleStore)(nil)
