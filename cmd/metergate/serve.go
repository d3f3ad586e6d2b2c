package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/metergate/bootstrap"
	"github.com/artpar/metergate/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the metering server",
	Long: `Start the metergate server.

The server will:
  - Load configuration from metergate.yaml (or --config)
  - Or load configuration from METERGATE_* environment variables
  - Open the durable store and seed configured plans
  - Accept event and occurrence batches on /v1
  - Run the periodic stack flush scheduler

Environment variables (for Docker deployments):
  METERGATE_DATABASE_DRIVER  - Store driver: sqlite or memory
  METERGATE_DATABASE_DSN     - Database path (default: metergate.db)
  METERGATE_SERVER_PORT      - Server port (default: 8080)
  METERGATE_FLUSH_INTERVAL   - Flush cycle interval (default: 10s)
  METERGATE_NOTIFY_MODE      - Notification mode: none, log, webhook
  METERGATE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  metergate serve
  metergate serve --config /etc/metergate/config.yaml
  metergate serve --hot-reload=false

  # Docker (env vars only):
  METERGATE_DATABASE_DSN=/data/metergate.db metergate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set METERGATE_DATABASE_DSN environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  METERGATE_DATABASE_DSN=/data/metergate.db metergate serve")
		return nil
	}

	if !hasConfigFile {
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.NewWithOptions(bootstrap.Options{
		ConfigPath:   cfgFile,
		Version:      version,
		DisableWatch: !hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
