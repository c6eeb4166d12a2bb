package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/complyflow/complyflow/internal/adapter/outbound/rulefile"
	"github.com/complyflow/complyflow/internal/domain/event"
	"github.com/complyflow/complyflow/internal/service"
)

// ruleSamples pairs a rule with the sample events generated for it.
type ruleSamples struct {
	RuleID   string        `json:"rule_id"`
	RuleName string        `json:"rule_name"`
	Events   []event.Event `json:"events"`
}

var samplesCmd = &cobra.Command{
	Use:   "samples [rules.yaml]",
	Short: "Generate sample events that satisfy each rule",
	Long: `Generate one sample event per trigger category for every rule in a
rule file and print them as JSON. The output can be edited and fed back to
"complyflow simulate --events".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := rulefile.Load(args[0])
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		out := make([]ruleSamples, 0, len(rules))
		for i := range rules {
			r := &rules[i]
			out = append(out, ruleSamples{
				RuleID:   r.ID,
				RuleName: r.Name,
				Events:   service.GenerateSampleEvents(r, now),
			})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(samplesCmd)
}
