package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/artpar/tutorquota/bootstrap"
	"github.com/artpar/tutorquota/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the tutorquota configuration file.

Checks:
  - YAML syntax is valid
  - Plans, limits and generation options are in range
  - The usage event store is reachable (optional)

Examples:
  tutorquota validate
  tutorquota validate --config /etc/tutorquota/config.yaml --check-database`,
	RunE: runValidate,
}

var validateCheckDatabase bool

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the usage event store is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Upstream: %s (model %s)\n", checkMark, cfg.Upstream.BaseURL, cfg.Upstream.Model)
	fmt.Fprintf(out, "  %s Default plan: %s\n", checkMark, cfg.Quota.DefaultPlan)
	for _, p := range cfg.Quota.PlanList() {
		fmt.Fprintf(out, "      %s: %s\n", p.ID, strings.Join(planLimitLines(p), " "))
	}
	if len(cfg.Quota.FailOpen) > 0 {
		fmt.Fprintf(out, "  %s Fail-open actions: %s\n", checkMark, strings.Join(cfg.Quota.FailOpen, ", "))
	}
	if cfg.Retention.Enabled {
		fmt.Fprintf(out, "  %s Retention: %d days (%s)\n", checkMark, cfg.Retention.Days, cfg.Retention.Schedule)
	}

	if validateCheckDatabase {
		if err := checkDatabase(cfg); err != nil {
			fmt.Fprintf(out, "  %s Database reachable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database reachable\n", checkMark)
		}
	}

	fmt.Fprintf(out, "\nReloadable without restart: %s\n", strings.Join(config.ReloadableFields(), ", "))
	return nil
}

func checkDatabase(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg.Database, cfg.Quota.DefaultPlan, zerolog.Nop())
	if err != nil {
		return err
	}
	defer stores.Close()

	return stores.Health.HealthCheck(ctx)
}
