package main

import (
	"fmt"
	"os"

	"github.com/artpar/tutorquota/bootstrap"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tutorquota",
	Short: "Per-user daily usage quotas for the tutoring assistant",
	Long: `tutorquota enforces per-user daily limits on chat, speech synthesis
and transcription requests. Counters reset at midnight UTC.

Quick start:
  tutorquota serve      # Start the HTTP server
  tutorquota validate   # Validate configuration

Operations:
  tutorquota usage status --user=user_123
  tutorquota usage prune
  tutorquota plans assign --user=user_123 --plan=premium`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", bootstrap.DefaultConfigPath, "config file path")
}
