// Package action runs the ordered action lists of matched automation rules.
package action

import (
	"context"
	"sort"
	"sync"

	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/event"
)

// Well-known action types.
const (
	TypeSendNotification = "send_notification"
	TypeCreateActionPlan = "create_action_plan"
	TypeCreateTask       = "create_task"
	TypeCallWebhook      = "call_webhook"
)

// ExecContext is what a handler sees besides its rendered config.
type ExecContext struct {
	Event event.Event
	Rule  *automation.Rule
	// Previous holds the results of the actions already run for this rule, in order.
	Previous []automation.ActionResult
	// DryRun asks the handler to skip side effects. Only honoured by
	// handlers implementing DryRunner.
	DryRun bool
}

// Handler executes one action type. config has already been rendered
// against the event payload. The returned map is recorded as the action's
// result and is visible to later actions of the same rule.
type Handler interface {
	Handle(ctx context.Context, config map[string]any, ec ExecContext) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, config map[string]any, ec ExecContext) (map[string]any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, config map[string]any, ec ExecContext) (map[string]any, error) {
	return f(ctx, config, ec)
}

// DryRunner is implemented by handlers that can run without side effects.
type DryRunner interface {
	SupportsDryRun() bool
}

// CanDryRun reports whether h honours ExecContext.DryRun.
func CanDryRun(h Handler) bool {
	d, ok := h.(DryRunner)
	return ok && d.SupportsDryRun()
}

// Registry maps action types to handlers. Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for actionType.
func (r *Registry) Register(actionType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// Lookup returns the handler for actionType.
func (r *Registry) Lookup(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// Has reports whether actionType is registered.
func (r *Registry) Has(actionType string) bool {
	_, ok := r.Lookup(actionType)
	return ok
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
