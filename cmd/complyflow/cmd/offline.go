package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/complyflow/complyflow/internal/adapter/outbound/actions"
	"github.com/complyflow/complyflow/internal/adapter/outbound/cel"
	"github.com/complyflow/complyflow/internal/adapter/outbound/memory"
	"github.com/complyflow/complyflow/internal/domain/action"
	"github.com/complyflow/complyflow/internal/domain/condition"
	"github.com/complyflow/complyflow/internal/domain/event"
	"github.com/complyflow/complyflow/internal/service"
)

// offlineEngine is an engine over memory stores for commands that work on
// rule files without a running server.
type offlineEngine struct {
	harness *service.TestHarness
	admin   *service.RuleAdminService
}

func newOfflineEngine(liveSideEffects bool, logger *slog.Logger) (*offlineEngine, error) {
	store := memory.NewRuleStore()
	reg := action.NewRegistry()
	actions.RegisterDefaults(reg, memory.NewInbox(), memory.NewItemStore())
	executor := action.NewExecutor(reg, logger, action.WithLiveSideEffectsInDryRun(liveSideEffects))

	guard, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create guard evaluator: %w", err)
	}
	engine := service.NewRuleEngine(store, condition.New(), executor, logger, service.WithGuard(guard))
	return &offlineEngine{
		harness: service.NewTestHarness(engine),
		admin:   service.NewRuleAdminService(store, reg.Has, guard, logger),
	}, nil
}

// quietLogger discards everything below warn so command output stays JSON.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// loadEvents reads a JSON array of event envelopes. Envelope defaults are
// applied later by the harness, so events may omit tenant_id.
func loadEvents(path string) ([]event.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var events []event.Event
	if err := dec.Decode(&events); err != nil {
		return nil, fmt.Errorf("parse events %s: expected a JSON array of envelopes: %w", path, err)
	}
	for i, ev := range events {
		if ev.Type == "" {
			return nil, fmt.Errorf("event %d: event_type is required", i)
		}
	}
	return events, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
