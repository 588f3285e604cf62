package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// PlanStore implements harvest.PlanStore against Postgres. The table is
// append-only: one row per plan generation, never updated or deleted.
type PlanStore struct {
	pool DBPool
}

// NewPlanStore constructs a PlanStore over an existing pool.
func NewPlanStore(pool DBPool) (*PlanStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PlanStore{pool: pool}, nil
}

// RecordPlan appends one plan metadata row.
func (s *PlanStore) RecordPlan(ctx context.Context, meta harvest.PlanMetadata) error {
	query := `
INSERT INTO plan_metadata (plan_fingerprint, environment, date_range_start, date_range_end, generated_at, config_version, task_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, query,
		meta.Fingerprint,
		meta.Environment,
		meta.DateRangeStart,
		meta.DateRangeEnd,
		meta.GeneratedAt,
		meta.ConfigVersion,
		meta.TaskCount,
	); err != nil {
		return fmt.Errorf("record plan: %w", err)
	}
	return nil
}

// LatestPlan returns the most recently generated plan metadata row.
func (s *PlanStore) LatestPlan(ctx context.Context) (harvest.PlanMetadata, error) {
	query := `
SELECT plan_fingerprint, environment, date_range_start, date_range_end, generated_at, config_version, task_count
FROM plan_metadata
ORDER BY generated_at DESC
LIMIT 1`
	var meta harvest.PlanMetadata
	err := s.pool.QueryRow(ctx, query).Scan(
		&meta.Fingerprint,
		&meta.Environment,
		&meta.DateRangeStart,
		&meta.DateRangeEnd,
		&meta.GeneratedAt,
		&meta.ConfigVersion,
		&meta.TaskCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.PlanMetadata{}, harvest.ErrNotFound
		}
		return harvest.PlanMetadata{}, fmt.Errorf("latest plan: %w", err)
	}
	return meta, nil
}
