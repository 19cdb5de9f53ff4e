package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/artpar/tutorquota/adapters/clock"
	"github.com/artpar/tutorquota/adapters/idgen"
	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/bootstrap"
	"github.com/artpar/tutorquota/config"
	"github.com/artpar/tutorquota/domain/plan"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/retention"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect and maintain daily usage",
	Long: `Inspect daily usage and prune old usage events.

Examples:
  tutorquota usage status --user=user_123
  tutorquota usage status --user=user_123 --action=chat_request
  tutorquota usage prune --days=30`,
}

var usageStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's usage for a user without consuming quota",
	RunE:  runUsageStatus,
}

var usagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete usage events older than the retention period",
	RunE:  runUsagePrune,
}

var (
	usageUserID string
	usageAction string
	pruneDays   int
)

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.AddCommand(usageStatusCmd)
	usageCmd.AddCommand(usagePruneCmd)

	usageStatusCmd.Flags().StringVar(&usageUserID, "user", "", "user ID (required)")
	usageStatusCmd.Flags().StringVar(&usageAction, "action", "", "single action to show (default: all)")
	usageStatusCmd.MarkFlagRequired("user")

	usagePruneCmd.Flags().IntVar(&pruneDays, "days", 0, "retention in days (default: retention.days from config)")
}

// loadConfig reads the config file, or the environment when it is missing.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openQuota builds a quota service on the configured store.
func openQuota(ctx context.Context, cfg *config.Config) (*app.QuotaService, *bootstrap.Stores, error) {
	stores, err := bootstrap.OpenStores(ctx, cfg.Database, cfg.Quota.DefaultPlan, zerolog.Nop())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	ledger := app.NewLedger(app.LedgerDeps{
		Store:  stores.Usage,
		Clock:  clock.Real{},
		IDGen:  idgen.UUID{},
		Logger: zerolog.Nop(),
	}, app.LedgerConfig{StoreTimeout: cfg.Quota.StoreTimeout})

	return app.NewQuotaService(ledger, stores.Plans, bootstrap.QuotaPolicy(cfg.Quota), zerolog.Nop()), stores, nil
}

func runUsageStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, stores, err := openQuota(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	var decisions []app.Decision
	if usageAction != "" {
		d, err := svc.Status(ctx, usageUserID, usage.Action(usageAction))
		if err != nil {
			return fmt.Errorf("failed to get usage: %w", err)
		}
		decisions = []app.Decision{d}
	} else {
		decisions, err = svc.StatusAll(ctx, usageUserID)
		if err != nil {
			return fmt.Errorf("failed to get usage: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	planID := ""
	if len(decisions) > 0 {
		planID = decisions[0].Plan
	}
	fmt.Fprintf(out, "Usage for %s (plan %s)\n", usageUserID, planID)
	if len(decisions) > 0 {
		fmt.Fprintf(out, "Resets at %s\n\n", decisions[0].ResetAt.Format(time.RFC3339))
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tUSED\tLIMIT\tREMAINING\tALLOWED")
	for _, d := range decisions {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\n", d.Action, d.Used, d.Limit, d.Remaining, d.Allowed)
	}
	return w.Flush()
}

func runUsagePrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	days := cfg.Retention.Days
	if pruneDays > 0 {
		days = pruneDays
	}

	ctx := cmd.Context()
	stores, err := bootstrap.OpenStores(ctx, cfg.Database, cfg.Quota.DefaultPlan, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer stores.Close()

	s, err := retention.NewScheduler(retention.Config{
		Pruner: stores.Pruner,
		Clock:  clock.Real{},
		Logger: zerolog.Nop(),
		Days:   days,
	})
	if err != nil {
		return err
	}

	deleted, err := s.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d usage events before %s\n",
		deleted, s.Cutoff(time.Now()).Format("2006-01-02"))
	return nil
}

// planLimitLines renders a plan's limits as action=limit pairs.
func planLimitLines(p plan.Plan) []string {
	actions := plan.Actions(p)
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, fmt.Sprintf("%s=%d", a, p.Limits[a]))
	}
	return out
}
