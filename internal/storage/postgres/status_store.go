package postgres

import (
	"context"
	"fmt"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// StatusStore implements harvest.StatusReader with one aggregate query per
// plan. Status is always derived by joining plan, claims and results; it is
// never stored, so the view can lag result writes without ever lying about
// completion.
type StatusStore struct {
	pool  DBPool
	clock harvest.Clock
}

// NewStatusStore constructs a StatusStore over an existing pool.
func NewStatusStore(pool DBPool, clock harvest.Clock) (*StatusStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &StatusStore{pool: pool, clock: clock}, nil
}

// PlanSummary aggregates derived task status under one fingerprint.
func (s *StatusStore) PlanSummary(ctx context.Context, fingerprint string) (harvest.PlanSummary, error) {
	query := `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN done THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN NOT done AND live THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN NOT done AND NOT live THEN 1 ELSE 0 END), 0)
FROM (
	SELECT t.task_id,
	       EXISTS (
		SELECT 1
		FROM task_result r
		JOIN request q ON q.id = r.request_id
		WHERE r.task_id = t.task_id
		  AND q.current_page >= q.total_pages
	       ) AS done,
	       EXISTS (
		SELECT 1
		FROM task_claim c
		WHERE c.task_id = t.task_id
		  AND c.status IN ('CLAIMED', 'EXECUTING')
		  AND c.expires_at > $2
	       ) AS live
	FROM task t
	WHERE t.plan_fingerprint = $1
) s`
	summary := harvest.PlanSummary{Fingerprint: fingerprint}
	err := s.pool.QueryRow(ctx, query, fingerprint, s.clock.Now()).Scan(
		&summary.Total,
		&summary.Completed,
		&summary.Claimed,
		&summary.Pending,
	)
	if err != nil {
		return harvest.PlanSummary{}, fmt.Errorf("plan summary for %s: %w", fingerprint, err)
	}
	return summary, nil
}
