package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/condition"
)

// ErrUnknownActionType is recorded for actions without a registered handler.
var ErrUnknownActionType = errors.New("unknown action type")

// ErrDryRunUnsupported is recorded when a test run refuses to execute a
// handler that cannot dry-run.
var ErrDryRunUnsupported = errors.New("handler does not support dry-run")

// Executor runs action lists sequentially. It holds no per-run state and is
// safe for concurrent use.
type Executor struct {
	registry  *Registry
	timeout   time.Duration
	allowLive bool
	logger    *slog.Logger
}

// ExecutorOption configures Executor.
type ExecutorOption func(*Executor)

// WithActionTimeout bounds each handler call. Zero disables the bound.
func WithActionTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithLiveSideEffectsInDryRun controls what a dry run does with handlers
// that cannot dry-run: run them for real (true, the default) or fail them
// with ErrDryRunUnsupported (false).
func WithLiveSideEffectsInDryRun(allow bool) ExecutorOption {
	return func(e *Executor) { e.allowLive = allow }
}

// NewExecutor creates an executor dispatching through registry.
func NewExecutor(registry *Registry, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  registry,
		timeout:   30 * time.Second,
		allowLive: true,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the handler registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs actions in order and returns one result per action. A failed
// action (unknown type, handler error, panic, timeout) is recorded and the
// next action still runs. Each action sees the results of the ones before it.
func (e *Executor) Execute(ctx context.Context, actions []automation.ActionSpec, ec ExecContext) []automation.ActionResult {
	results := make([]automation.ActionResult, 0, len(actions))
	for _, spec := range actions {
		ec.Previous = results
		results = append(results, e.executeOne(ctx, spec, ec))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, spec automation.ActionSpec, ec ExecContext) automation.ActionResult {
	start := time.Now()
	res := automation.ActionResult{ActionType: spec.Type}

	handler, ok := e.registry.Lookup(spec.Type)
	if !ok {
		res.Error = fmt.Sprintf("%s: %s", ErrUnknownActionType, spec.Type)
		e.logger.Warn("unknown action type", "rule", ruleID(ec), "action_type", spec.Type)
		return res
	}

	if ec.DryRun {
		if CanDryRun(handler) {
			res.DryRun = true
		} else if e.allowLive {
			res.LiveSideEffect = true
			ec.DryRun = false
			e.logger.Warn("handler cannot dry-run, executing with live side effects",
				"rule", ruleID(ec), "action_type", spec.Type)
		} else {
			res.Error = ErrDryRunUnsupported.Error()
			return res
		}
	}

	config := Render(spec.Config, e.resolver(ec))

	out, err := e.invoke(ctx, handler, config, ec)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		e.logger.Warn("action failed",
			"rule", ruleID(ec),
			"event", ec.Event.ID,
			"action_type", spec.Type,
			"error", err,
		)
		return res
	}
	res.Success = true
	res.Result = out
	return res
}

// invoke calls the handler under the per-action timeout and converts a
// panic into an error so one broken handler cannot take down the rule.
func (e *Executor) invoke(ctx context.Context, h Handler, config map[string]any, ec ExecContext) (out map[string]any, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	out, err = h.Handle(ctx, config, ec)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("action timed out: %w", ctx.Err())
	}
	return out, err
}

// resolver looks placeholders up in the payload first, then in
// previous.<key> (result of the last successful action) and finally in the
// event and rule metadata (event.id, event.type, rule.id, ...).
func (e *Executor) resolver(ec ExecContext) Resolver {
	return func(name string) (any, bool) {
		if v, ok := condition.Lookup(ec.Event.Payload, name); ok {
			return v, true
		}
		if key, ok := strings.CutPrefix(name, "previous."); ok {
			for i := len(ec.Previous) - 1; i >= 0; i-- {
				if ec.Previous[i].Success {
					return condition.Lookup(ec.Previous[i].Result, key)
				}
			}
			return nil, false
		}
		switch name {
		case "event.id":
			return ec.Event.ID, true
		case "event.type":
			return ec.Event.Type, true
		case "event.category":
			return string(ec.Event.Category), true
		case "event.priority":
			return string(ec.Event.Priority), true
		case "event.occurred_at":
			return ec.Event.OccurredAt.Format(time.RFC3339), true
		case "tenant_id":
			return ec.Event.TenantID, true
		}
		if ec.Rule != nil {
			switch name {
			case "rule.id":
				return ec.Rule.ID, true
			case "rule.name":
				return ec.Rule.Name, true
			}
		}
		return nil, false
	}
}

func ruleID(ec ExecContext) string {
	if ec.Rule == nil {
		return ""
	}
	return ec.Rule.ID
}
