package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// ClaimStore implements harvest.ClaimStore against Postgres.
//
// Mutual exclusion rests on the task_claim_live partial unique index: at
// most one CLAIMED/EXECUTING row may exist per task. Claiming is one
// statement that retires any lapsed lease and inserts the new one, so two
// workers racing on the same task can never both win — the loser's insert
// hits the index and affects zero rows. No in-process lock is involved;
// correctness is pushed to the storage layer.
type ClaimStore struct {
	pool  DBPool
	clock harvest.Clock
	ids   harvest.IDGenerator
}

// NewClaimStore constructs a ClaimStore over an existing pool.
func NewClaimStore(pool DBPool, clock harvest.Clock, ids harvest.IDGenerator) (*ClaimStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &ClaimStore{pool: pool, clock: clock, ids: ids}, nil
}

const claimSQL = `
WITH lapsed AS (
	UPDATE task_claim
	SET status = 'EXPIRED'
	WHERE task_id = $2
	  AND status IN ('CLAIMED', 'EXECUTING')
	  AND expires_at <= $4
)
INSERT INTO task_claim (claim_id, task_id, worker_id, claimed_at, expires_at, status)
VALUES ($1, $2, $3, $4, $5, 'CLAIMED')
ON CONFLICT (task_id) WHERE status IN ('CLAIMED', 'EXECUTING') DO NOTHING`

// Claim attempts to take a lease on the task. It returns harvest.ErrClaimDenied
// when another worker holds a live lease.
func (s *ClaimStore) Claim(ctx context.Context, taskID, workerID string, lease time.Duration) (harvest.Claim, error) {
	claimID, err := s.ids.NewID()
	if err != nil {
		return harvest.Claim{}, fmt.Errorf("claim id: %w", err)
	}
	now := s.clock.Now()
	expires := now.Add(lease)

	tag, err := s.pool.Exec(ctx, claimSQL, claimID, taskID, workerID, now, expires)
	if err != nil {
		return harvest.Claim{}, fmt.Errorf("claim task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.Claim{}, fmt.Errorf("task %s: %w", taskID, harvest.ErrClaimDenied)
	}
	return harvest.Claim{
		ID:        claimID,
		TaskID:    taskID,
		WorkerID:  workerID,
		ClaimedAt: now,
		ExpiresAt: expires,
		Status:    harvest.ClaimStatusClaimed,
	}, nil
}

// Renew extends the lease. It returns harvest.ErrLeaseExpired when the lease
// already lapsed; the caller must abandon the task.
func (s *ClaimStore) Renew(ctx context.Context, claimID string, extra time.Duration) error {
	query := `
UPDATE task_claim
SET expires_at = expires_at + $2
WHERE claim_id = $1
  AND status IN ('CLAIMED', 'EXECUTING')
  AND expires_at > $3`
	tag, err := s.pool.Exec(ctx, query, claimID, extra, s.clock.Now())
	if err != nil {
		return fmt.Errorf("renew claim %s: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %s: %w", claimID, harvest.ErrLeaseExpired)
	}
	return nil
}

// MarkExecuting transitions the claim to EXECUTING on first page fetch.
func (s *ClaimStore) MarkExecuting(ctx context.Context, claimID string) error {
	query := `
UPDATE task_claim
SET status = 'EXECUTING'
WHERE claim_id = $1
  AND status = 'CLAIMED'
  AND expires_at > $2`
	tag, err := s.pool.Exec(ctx, query, claimID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark executing %s: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %s: %w", claimID, harvest.ErrLeaseExpired)
	}
	return nil
}

// Release retires the claim on graceful shutdown. Best-effort: a missed
// release only delays re-claim until expiry.
func (s *ClaimStore) Release(ctx context.Context, claimID string) error {
	query := `
UPDATE task_claim
SET status = 'RELEASED'
WHERE claim_id = $1
  AND status IN ('CLAIMED', 'EXECUTING')`
	if _, err := s.pool.Exec(ctx, query, claimID); err != nil {
		return fmt.Errorf("release claim %s: %w", claimID, err)
	}
	return nil
}

// SelectClaimable returns tasks under the fingerprint with no terminal
// result and no live claim, oldest first, ties broken by task_id.
func (s *ClaimStore) SelectClaimable(ctx context.Context, fingerprint string, limit int) ([]harvest.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	query := `
SELECT t.task_id, t.endpoint_name, t.data_date, t.modalidade, t.plan_fingerprint, t.created_at
FROM task t
WHERE t.plan_fingerprint = $1
  AND NOT EXISTS (
	SELECT 1
	FROM task_result r
	JOIN request q ON q.id = r.request_id
	WHERE r.task_id = t.task_id
	  AND q.current_page >= q.total_pages
  )
  AND NOT EXISTS (
	SELECT 1
	FROM task_claim c
	WHERE c.task_id = t.task_id
	  AND c.status IN ('CLAIMED', 'EXECUTING')
	  AND c.expires_at > $2
  )
ORDER BY t.created_at, t.task_id
LIMIT $3`
	rows, err := s.pool.Query(ctx, query, fingerprint, s.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	defer rows.Close()

	var tasks []harvest.Task
	for rows.Next() {
		var task harvest.Task
		if err := rows.Scan(
			&task.ID,
			&task.EndpointName,
			&task.DataDate,
			&task.Modalidade,
			&task.PlanFingerprint,
			&task.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimable task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimable tasks: %w", err)
	}
	return tasks, nil
}

// LiveClaim returns the unexpired CLAIMED/EXECUTING claim for the task.
func (s *ClaimStore) LiveClaim(ctx context.Context, taskID string) (harvest.Claim, error) {
	query := `
SELECT claim_id, task_id, worker_id, claimed_at, expires_at, status
FROM task_claim
WHERE task_id = $1
  AND status IN ('CLAIMED', 'EXECUTING')
  AND expires_at > $2`
	var claim harvest.Claim
	err := s.pool.QueryRow(ctx, query, taskID, s.clock.Now()).Scan(
		&claim.ID,
		&claim.TaskID,
		&claim.WorkerID,
		&claim.ClaimedAt,
		&claim.ExpiresAt,
		&claim.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Claim{}, harvest.ErrNotFound
		}
		return harvest.Claim{}, fmt.Errorf("live claim for %s: %w", taskID, err)
	}
	return claim, nil
}
