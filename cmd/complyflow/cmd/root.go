// Package cmd provides the CLI commands for complyflow.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/complyflow/complyflow/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "complyflow",
	Short: "complyflow - GRC automation rule engine",
	Long: `complyflow evaluates compliance, risk and policy events against
tenant-scoped automation rules and runs their actions: in-app
notifications, action plans, tasks and webhooks.

Quick start:
  1. Create a config file: complyflow.yaml
  2. Run: complyflow start --dev

Configuration:
  Config is loaded from complyflow.yaml in the current directory,
  $HOME/.complyflow/, or /etc/complyflow/.

  Environment variables can override config values with the COMPLYFLOW_ prefix.
  Example: COMPLYFLOW_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the rule engine server
  simulate    Run rules from a file against events without side effects
  validate    Check a rule file
  samples     Generate sample events that satisfy each rule
  hash-key    Hash an API key for the config file
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./complyflow.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
