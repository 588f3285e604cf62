package harvest

import (
	"context"
	"time"
)

// TaskStore persists the planned task universe.
type TaskStore interface {
	// UpsertTask inserts the task if its deterministic ID is new and is a
	// no-op otherwise, so plan regeneration never duplicates rows.
	UpsertTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
}

// PlanStore records the append-only plan generation history.
type PlanStore interface {
	RecordPlan(ctx context.Context, meta PlanMetadata) error
	// LatestPlan returns the most recently generated metadata row, or
	// ErrNotFound when no plan has ever been recorded.
	LatestPlan(ctx context.Context) (PlanMetadata, error)
}

// ClaimStore grants and tracks task leases. Claim is the single
// correctness-critical operation in the system: it must be one atomic
// conditional write against the claims table, never a read followed by a
// write.
type ClaimStore interface {
	Claim(ctx context.Context, taskID, workerID string, lease time.Duration) (Claim, error)
	Renew(ctx context.Context, claimID string, extra time.Duration) error
	MarkExecuting(ctx context.Context, claimID string) error
	Release(ctx context.Context, claimID string) error
	// SelectClaimable returns tasks under the fingerprint with no terminal
	// result and no live claim, oldest first, ties broken by task ID.
	SelectClaimable(ctx context.Context, fingerprint string, limit int) ([]Task, error)
	// LiveClaim returns the unexpired CLAIMED/EXECUTING claim for the
	// task, or ErrNotFound when none exists.
	LiveClaim(ctx context.Context, taskID string) (Claim, error)
}

// ContentStore deduplicates raw response payloads by content digest.
type ContentStore interface {
	// Put stores the payload (or bumps the reference count of an
	// identical one) and returns its deterministic content row.
	Put(ctx context.Context, body []byte) (Content, error)
	// Release decrements the reference count, flooring at zero. A zero
	// count marks the row reclaimable but never deletes it implicitly.
	Release(ctx context.Context, contentID string) error
	Stats(ctx context.Context) (ContentStats, error)
}

// RequestStore persists per-fetch request metadata.
type RequestStore interface {
	RecordRequest(ctx context.Context, req Request) error
}

// ResultStore is the append-only log of completed page fetches.
type ResultStore interface {
	// AppendResult inserts the result; a duplicate (task_id, page_number)
	// is a no-op so at-least-once delivery from workers stays idempotent.
	AppendResult(ctx context.Context, result Result) error
	// MaxPage returns the highest durably recorded page number for the
	// task, or zero when no pages have been recorded.
	MaxPage(ctx context.Context, taskID string) (int, error)
	// TaskCompleted reports whether a terminal result exists for the task
	// (a recorded page whose request reached the upstream's last page).
	TaskCompleted(ctx context.Context, taskID string) (bool, error)
}

// StatusReader aggregates derived task status per plan fingerprint.
type StatusReader interface {
	PlanSummary(ctx context.Context, fingerprint string) (PlanSummary, error)
}

// Fetcher retrieves one page from the upstream API.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (PageResponse, error)
}

// RetryPolicy decides fetch retries and backoff.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Publisher pushes task completion events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for lease expiry tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces claim/result/request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
