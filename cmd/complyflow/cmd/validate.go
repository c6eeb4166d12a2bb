package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/complyflow/complyflow/internal/adapter/outbound/rulefile"
)

var validateCmd = &cobra.Command{
	Use:   "validate [rules.yaml]",
	Short: "Check a rule file",
	Long: `Parse a YAML rule file and check every rule: triggers, condition
operators and values, action types and guard expressions.

Exits non-zero when any rule is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := rulefile.Load(args[0])
		if err != nil {
			return err
		}
		eng, err := newOfflineEngine(false, quietLogger())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var errs []error
		for i := range rules {
			r := &rules[i]
			label := r.Name
			if r.ID != "" {
				label = r.ID + " (" + r.Name + ")"
			}
			if err := eng.admin.Validate(r); err != nil {
				fmt.Fprintf(out, "FAIL  %s: %v\n", label, err)
				errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
				continue
			}
			fmt.Fprintf(out, "ok    %s\n", label)
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d of %d rules invalid: %w", len(errs), len(rules), errors.Join(errs...))
		}
		fmt.Fprintf(out, "%d rules valid\n", len(rules))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
