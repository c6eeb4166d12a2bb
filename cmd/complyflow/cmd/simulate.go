package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/complyflow/complyflow/internal/adapter/outbound/rulefile"
	"github.com/complyflow/complyflow/internal/service"
)

var (
	simulateRulesFile  string
	simulateEventsFile string
	simulateRuleID     string
	simulateLive       bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run rules from a file against events without side effects",
	Long: `Run every rule in a rule file (or one rule with --rule) against a JSON
array of event envelopes and print the per-event results as JSON.

Rule statistics and history are never touched. Actions run in dry-run mode;
handlers without dry-run support are refused unless --live is given.

Example:
  complyflow simulate --rules rules.yaml --events events.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := rulefile.Load(simulateRulesFile)
		if err != nil {
			return err
		}
		events, err := loadEvents(simulateEventsFile)
		if err != nil {
			return err
		}
		eng, err := newOfflineEngine(simulateLive, quietLogger())
		if err != nil {
			return err
		}

		reports := make([]service.TestReport, 0, len(rules))
		for i := range rules {
			r := &rules[i]
			if simulateRuleID != "" && r.ID != simulateRuleID {
				continue
			}
			if err := eng.admin.Validate(r); err != nil {
				return fmt.Errorf("rule %q: %w", r.Name, err)
			}
			reports = append(reports, eng.harness.TestRuleWithEvents(cmd.Context(), r, events))
		}
		if simulateRuleID != "" && len(reports) == 0 {
			return fmt.Errorf("rule %q not found in %s", simulateRuleID, simulateRulesFile)
		}
		return writeJSON(cmd.OutOrStdout(), reports)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRulesFile, "rules", "", "YAML rule file")
	simulateCmd.Flags().StringVar(&simulateEventsFile, "events", "", "JSON array of event envelopes")
	simulateCmd.Flags().StringVar(&simulateRuleID, "rule", "", "only simulate the rule with this id")
	simulateCmd.Flags().BoolVar(&simulateLive, "live", false, "allow actions without dry-run support to run for real")
	_ = simulateCmd.MarkFlagRequired("rules")
	_ = simulateCmd.MarkFlagRequired("events")
	rootCmd.AddCommand(simulateCmd)
}
