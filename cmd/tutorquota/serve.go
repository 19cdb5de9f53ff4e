package main

import (
	"fmt"

	"github.com/artpar/tutorquota/bootstrap"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quota HTTP server",
	Long: `Start the tutorquota HTTP server.

The server will:
  - Load configuration from tutorquota.yaml (or --config)
  - Or load configuration from TUTORQUOTA_* environment variables
  - Connect to the configured usage event store
  - Gate chat, speech synthesis and transcription behind daily quotas
  - Reload plan limits when the config file changes or on SIGHUP

Environment variables (for Docker deployments):
  TUTORQUOTA_DATABASE_DRIVER    - sqlite, postgres or redis
  TUTORQUOTA_DATABASE_DSN       - Store DSN (default: tutorquota.db)
  TUTORQUOTA_SERVER_PORT        - Server port (default: 8080)
  TUTORQUOTA_UPSTREAM_BASE_URL  - Model provider URL
  TUTORQUOTA_UPSTREAM_API_KEY   - Model provider key
  TUTORQUOTA_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  tutorquota serve
  tutorquota serve --config /etc/tutorquota/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run(cmd.Context())
}
