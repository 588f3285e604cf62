package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/harvest"
	"github.com/pncp-tools/harvester/internal/logging"
	"github.com/pncp-tools/harvester/internal/plan"
)

// newPlanCmd creates the 'plan' subcommand. Planning is idempotent: rerunning
// with the same configuration reproduces the same fingerprint and task IDs
// and changes nothing.
func newPlanCmd() *cobra.Command {
	var startDate, endDate string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate or refresh the extraction task plan",
		Long: `Expands the configured date range, endpoints and modalities into the
deterministic task cross-product and upserts it into the database. The
plan fingerprint identifies this configuration; a changed fingerprint is
recorded as a new plan generation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			in, err := planInput(a, startDate, endDate)
			if err != nil {
				return err
			}

			gen := plan.NewGenerator(a.tasks, a.plans, a.clock, logging.Component(a.logger, "plan"))
			p, err := gen.Sync(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("sync plan: %w", err)
			}

			a.logger.Info("plan synchronized",
				zap.String("fingerprint", p.Fingerprint),
				zap.Int("tasks", len(p.Tasks)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "fingerprint: %s\ntasks: %d\n", p.Fingerprint, len(p.Tasks))
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start", "", "override plan.start_date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "override plan.end_date (YYYY-MM-DD)")
	return cmd
}

// planInput resolves the planning input from config plus optional flag
// overrides.
func planInput(a *app, startDate, endDate string) (plan.Input, error) {
	pc := a.cfg.Plan
	if startDate == "" {
		startDate = pc.StartDate
	}
	if endDate == "" {
		endDate = pc.EndDate
	}
	return plan.ParseInput(
		startDate,
		endDate,
		pc.Endpoints,
		pc.Modalities,
		pc.Environment,
		pc.ConfigVersion,
		harvest.NewCatalog(pc.Catalog),
	)
}
