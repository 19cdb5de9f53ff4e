package main

import (
	"fmt"

	"github.com/artpar/tutorquota/bootstrap"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage plan limits and assignments",
	Long: `List configured plans and assign users to them.

Plan limits are defined in the config file. Assignments are stored in the
database alongside usage events.

Examples:
  tutorquota plans list
  tutorquota plans assign --user=user_123 --plan=premium`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured plans and their daily limits",
	RunE:  runPlansList,
}

var plansAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign a user to a plan",
	RunE:  runPlansAssign,
}

var (
	assignUserID string
	assignPlanID string
)

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansAssignCmd)

	plansAssignCmd.Flags().StringVar(&assignUserID, "user", "", "user ID (required)")
	plansAssignCmd.Flags().StringVar(&assignPlanID, "plan", "", "plan ID (required)")
	plansAssignCmd.MarkFlagRequired("user")
	plansAssignCmd.MarkFlagRequired("plan")
}

func runPlansList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range cfg.Quota.PlanList() {
		marker := ""
		if p.ID == cfg.Quota.DefaultPlan {
			marker = " (default)"
		}
		fmt.Fprintf(out, "%s%s\n", p.ID, marker)
		for _, line := range planLimitLines(p) {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	return nil
}

func runPlansAssign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, ok := cfg.Quota.Plans[assignPlanID]; !ok {
		return fmt.Errorf("unknown plan: %s", assignPlanID)
	}

	ctx := cmd.Context()
	stores, err := bootstrap.OpenStores(ctx, cfg.Database, cfg.Quota.DefaultPlan, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer stores.Close()

	if err := stores.Assigner.Assign(ctx, assignUserID, assignPlanID); err != nil {
		return fmt.Errorf("failed to assign plan: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to plan %s\n", assignUserID, assignPlanID)
	return nil
}
