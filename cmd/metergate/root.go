package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "metergate",
	Short: "Usage metering and admission control for event ingestion",
	Long: `Metergate meters event ingestion across organizations and projects,
throttles tenants that exceed their plan quota, and rolls up
per-stack occurrence counts through a write-behind cache.

Quick start:
  metergate serve       # Start the metering server

Management:
  metergate orgs        # Manage organizations
  metergate plans       # Inspect plans
  metergate stacks      # Inspect stack rollups
  metergate validate    # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "metergate.yaml", "config file path")
}
