package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyflow/complyflow/internal/domain/action"
	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/condition"
	"github.com/complyflow/complyflow/internal/domain/event"
)

// ErrStoreUnavailable is returned when the rule store cannot be read. The
// event was not evaluated and may be retried; it is distinct from "no rule
// matched".
var ErrStoreUnavailable = errors.New("rule store unavailable")

const tracerName = "github.com/complyflow/complyflow/internal/service"

// GuardMatcher evaluates a rule's optional guard expression.
type GuardMatcher interface {
	Match(ctx context.Context, expr string, e event.Event) (bool, error)
}

// EventOutcome summarizes one OnEvent pass.
type EventOutcome struct {
	EventID    string                       `json:"event_id"`
	EventType  string                       `json:"event_type"`
	TenantID   string                       `json:"tenant_id"`
	Candidates int                          `json:"candidates"`
	Results    []automation.ExecutionResult `json:"results"`
}

// Matched returns the number of rules that matched.
func (o EventOutcome) Matched() int {
	n := 0
	for _, r := range o.Results {
		if r.Matched {
			n++
		}
	}
	return n
}

// RuleEngine matches incoming events against the tenant's rules and runs the
// actions of every matching rule.
type RuleEngine struct {
	store     automation.RuleStore
	evaluator *condition.Evaluator
	executor  *action.Executor
	guard     GuardMatcher
	recorder  automation.ExecutionRecorder
	metrics   *EngineMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// EngineOption configures RuleEngine.
type EngineOption func(*RuleEngine)

// WithGuard enables guard expressions. Without it a rule with an expression
// never matches.
func WithGuard(g GuardMatcher) EngineOption {
	return func(e *RuleEngine) { e.guard = g }
}

// WithRecorder records every genuine dispatch in the execution history.
func WithRecorder(r automation.ExecutionRecorder) EngineOption {
	return func(e *RuleEngine) { e.recorder = r }
}

// WithEngineMetrics sets the Prometheus metrics.
func WithEngineMetrics(m *EngineMetrics) EngineOption {
	return func(e *RuleEngine) { e.metrics = m }
}

// WithTracer overrides the tracer (default: the global otel provider).
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *RuleEngine) { e.tracer = t }
}

// WithClock overrides time.Now for statistics timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *RuleEngine) { e.now = now }
}

// NewRuleEngine creates a rule engine.
func NewRuleEngine(store automation.RuleStore, evaluator *condition.Evaluator, executor *action.Executor, logger *slog.Logger, opts ...EngineOption) *RuleEngine {
	e := &RuleEngine{
		store:     store,
		evaluator: evaluator,
		executor:  executor,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnEvent evaluates every candidate rule for ev, in priority order, and
// returns once all of them have run. Candidates are the tenant's enabled,
// immediate-mode rules whose triggers include ev.Type. Every matching rule
// dispatches (fan-out); its execution statistics are incremented once.
//
// A failure inside one rule is contained in that rule's result. The only
// error returned is ErrStoreUnavailable when the candidates cannot be listed.
func (e *RuleEngine) OnEvent(ctx context.Context, ev event.Event) (EventOutcome, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "RuleEngine.OnEvent", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
		attribute.String("tenant.id", ev.TenantID),
	))
	defer span.End()

	outcome := EventOutcome{EventID: ev.ID, EventType: ev.Type, TenantID: ev.TenantID}

	candidates, err := e.Candidates(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule store unavailable")
		e.metrics.observeEvent("store_error", time.Since(start))
		e.logger.Error("cannot list rules for event",
			"event", ev.ID,
			"event_type", ev.Type,
			"tenant", ev.TenantID,
			"error", err,
		)
		return outcome, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	outcome.Candidates = len(candidates)
	span.SetAttributes(attribute.Int("rules.candidates", len(candidates)))

	outcome.Results = make([]automation.ExecutionResult, 0, len(candidates))
	for i := range candidates {
		rule := &candidates[i]
		res := e.process(ctx, rule, ev, false)
		if res.Matched {
			e.recordDispatch(ctx, rule, ev, &res)
		}
		e.metrics.observeRule(res)
		outcome.Results = append(outcome.Results, res)
	}

	span.SetAttributes(attribute.Int("rules.matched", outcome.Matched()))
	e.metrics.observeEvent("processed", time.Since(start))
	e.logger.Debug("event processed",
		"event", ev.ID,
		"event_type", ev.Type,
		"candidates", outcome.Candidates,
		"matched", outcome.Matched(),
		"duration", time.Since(start),
	)
	return outcome, nil
}

// Candidates returns the rules OnEvent would evaluate for ev, sorted by
// priority with ties kept in store order.
func (e *RuleEngine) Candidates(ctx context.Context, ev event.Event) ([]automation.Rule, error) {
	rules, err := e.store.ListRules(ctx, ev.TenantID, automation.RuleFilter{
		EventType:   ev.Type,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, err
	}

	// Re-check what the store was asked to filter; a store implementation
	// must not be able to widen the candidate set.
	candidates := rules[:0]
	for _, r := range rules {
		if !r.Enabled || r.TenantID != ev.TenantID || !r.Triggers(ev.Type) {
			continue
		}
		if r.EffectiveMode() != automation.ModeImmediate {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates, nil
}

// process evaluates one rule against ev and, when it matches, runs its
// actions. test marks harness runs: actions run in dry-run mode and the
// result is flagged. A panic is converted into a rule-level error.
func (e *RuleEngine) process(ctx context.Context, rule *automation.Rule, ev event.Event, test bool) (res automation.ExecutionResult) {
	ctx, span := e.tracer.Start(ctx, "RuleEngine.rule", trace.WithAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.Int("rule.priority", rule.Priority),
		attribute.Bool("test", test),
	))
	defer span.End()

	res = automation.ExecutionResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		EventID:  ev.ID,
		Test:     test,
	}
	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("rule panic: %v", r)
			span.SetStatus(codes.Error, res.Error)
			e.logger.Error("rule processing panicked",
				"rule", rule.ID,
				"event", ev.ID,
				"panic", r,
			)
		}
		span.SetAttributes(attribute.String("rule.status", string(res.Status())))
	}()

	matched, leaves := e.evaluate(ctx, rule, ev, &res)
	res.ConditionResults = leaves
	res.Matched = matched
	if !matched {
		return res
	}

	res.ActionResults = e.executor.Execute(ctx, rule.Actions, action.ExecContext{
		Event:  ev,
		Rule:   rule,
		DryRun: test,
	})
	return res
}

// evaluate runs the condition tree and, when it holds, the guard expression.
func (e *RuleEngine) evaluate(ctx context.Context, rule *automation.Rule, ev event.Event, res *automation.ExecutionResult) (bool, []automation.LeafResult) {
	cond := e.evaluator.Evaluate(rule.Conditions, ev.Payload)
	if !cond.Matched || rule.Expression == "" {
		return cond.Matched, cond.Leaves
	}
	if e.guard == nil {
		res.ExpressionError = "guard expressions are not enabled"
		return false, cond.Leaves
	}
	ok, err := e.guard.Match(ctx, rule.Expression, ev)
	if err != nil {
		res.ExpressionError = err.Error()
		e.logger.Warn("rule guard expression failed",
			"rule", rule.ID,
			"event", ev.ID,
			"error", err,
		)
		return false, cond.Leaves
	}
	return ok, cond.Leaves
}

// recordDispatch updates the rule statistics and appends the result to the
// execution history. Failures are logged and reported on the result; they do
// not undo the dispatch.
func (e *RuleEngine) recordDispatch(ctx context.Context, rule *automation.Rule, ev event.Event, res *automation.ExecutionResult) {
	at := e.now().UTC()
	if _, err := e.store.IncrementExecution(ctx, rule.ID, at); err != nil {
		res.StatsError = err.Error()
		e.logger.Error("failed to update rule statistics",
			"rule", rule.ID,
			"event", ev.ID,
			"error", err,
		)
	}

	if e.recorder == nil {
		return
	}
	rec := automation.ExecutionRecord{
		TenantID:   ev.TenantID,
		EventType:  ev.Type,
		Status:     res.Status(),
		Result:     *res,
		RecordedAt: at,
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		e.logger.Warn("failed to record execution",
			"rule", rule.ID,
			"event", ev.ID,
			"error", err,
		)
	}
}
