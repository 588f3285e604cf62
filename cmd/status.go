package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// newStatusCmd creates the 'status' subcommand: a read-only snapshot of plan
// progress, a single task, or content dedup savings.
func newStatusCmd() *cobra.Command {
	var fingerprint, taskID string
	var showContent bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show derived plan, task or content storage status",
		Long: `Derives status from claims and recorded results; nothing here is
stored state. Without flags the latest plan's summary is printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")

			if showContent {
				stats, err := a.contents.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("load content stats: %w", err)
				}
				return enc.Encode(map[string]any{
					"distinct_payloads": stats.DistinctPayloads,
					"physical_bytes":    stats.PhysicalBytes,
					"logical_bytes":     stats.LogicalBytes,
					"bytes_saved":       stats.BytesSaved(),
				})
			}

			if taskID != "" {
				task, err := a.tasks.GetTask(cmd.Context(), taskID)
				if err != nil {
					return fmt.Errorf("load task: %w", err)
				}
				st, err := a.aggregator.TaskStatus(cmd.Context(), taskID)
				if err != nil {
					return fmt.Errorf("derive task status: %w", err)
				}
				return enc.Encode(map[string]any{"task": task, "status": st})
			}

			if fingerprint == "" {
				meta, err := a.plans.LatestPlan(cmd.Context())
				if errors.Is(err, harvest.ErrNotFound) {
					return errors.New("no plan recorded; run 'harvester plan' first")
				}
				if err != nil {
					return fmt.Errorf("load latest plan: %w", err)
				}
				fingerprint = meta.Fingerprint
			}

			summary, err := a.aggregator.PlanSummary(cmd.Context(), fingerprint)
			if err != nil {
				return fmt.Errorf("aggregate plan: %w", err)
			}
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "plan fingerprint (default: latest plan)")
	cmd.Flags().StringVar(&taskID, "task", "", "show the derived status of one task")
	cmd.Flags().BoolVar(&showContent, "content", false, "show content dedup statistics")
	return cmd
}
