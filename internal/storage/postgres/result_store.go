package postgres

import (
	"context"
	"fmt"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// ResultStore implements harvest.ResultStore against Postgres. The table is
// append-only with a uniqueness constraint on (task_id, page_number), so a
// replayed insert from an at-least-once worker is a no-op rather than an
// error.
type ResultStore struct {
	pool DBPool
}

// NewResultStore constructs a ResultStore over an existing pool.
func NewResultStore(pool DBPool) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{pool: pool}, nil
}

// AppendResult appends one page result; duplicates are ignored.
func (s *ResultStore) AppendResult(ctx context.Context, result harvest.Result) error {
	query := `
INSERT INTO task_result (result_id, task_id, request_id, page_number, records_extracted, completed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (task_id, page_number) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		result.ID,
		result.TaskID,
		result.RequestID,
		result.PageNumber,
		result.RecordsExtracted,
		result.CompletedAt,
	); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

// MaxPage returns the highest recorded page for the task, zero when none.
func (s *ResultStore) MaxPage(ctx context.Context, taskID string) (int, error) {
	query := `
SELECT COALESCE(MAX(page_number), 0)
FROM task_result
WHERE task_id = $1`
	var page int
	if err := s.pool.QueryRow(ctx, query, taskID).Scan(&page); err != nil {
		return 0, fmt.Errorf("max page for %s: %w", taskID, err)
	}
	return page, nil
}

// TaskCompleted reports whether a terminal result exists: a recorded page
// whose request reached the upstream's last page.
func (s *ResultStore) TaskCompleted(ctx context.Context, taskID string) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1
	FROM task_result r
	JOIN request q ON q.id = r.request_id
	WHERE r.task_id = $1
	  AND q.current_page >= q.total_pages
)`
	var done bool
	if err := s.pool.QueryRow(ctx, query, taskID).Scan(&done); err != nil {
		return false, fmt.Errorf("task completed for %s: %w", taskID, err)
	}
	return done, nil
}
