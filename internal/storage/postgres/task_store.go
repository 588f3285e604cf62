package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// TaskStore implements harvest.TaskStore against Postgres.
type TaskStore struct {
	pool DBPool
}

// NewTaskStore constructs a TaskStore over an existing pool.
func NewTaskStore(pool DBPool) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{pool: pool}, nil
}

// UpsertTask inserts the task; an existing task_id is left untouched so
// plan regeneration never duplicates or mutates rows.
func (s *TaskStore) UpsertTask(ctx context.Context, task harvest.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	query := `
INSERT INTO task (task_id, endpoint_name, data_date, modalidade, plan_fingerprint, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (task_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		task.ID,
		task.EndpointName,
		task.DataDate,
		task.Modalidade,
		task.PlanFingerprint,
		task.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// GetTask loads one task by ID.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (harvest.Task, error) {
	query := `
SELECT task_id, endpoint_name, data_date, modalidade, plan_fingerprint, created_at
FROM task
WHERE task_id = $1`
	var task harvest.Task
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&task.EndpointName,
		&task.DataDate,
		&task.Modalidade,
		&task.PlanFingerprint,
		&task.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Task{}, harvest.ErrNotFound
		}
		return harvest.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}
