// Package worker implements the claim-execute-record loop that drives
// extraction tasks to completion.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/harvest"
	"github.com/pncp-tools/harvester/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	Fingerprint string
	Lease       time.Duration
	PageSize    int
	ClaimBatch  int
	IdleWait    time.Duration
	Topic       string
	RunID       string
}

// Worker pulls claimable tasks and executes them: paginated fetch, content
// dedup, request/result persistence, lease renewal between pages.
type Worker struct {
	id       string
	claims   harvest.ClaimStore
	results  harvest.ResultStore
	requests harvest.RequestStore
	contents harvest.ContentStore
	fetcher  harvest.Fetcher
	retry    harvest.RetryPolicy
	pub      harvest.Publisher
	clock    harvest.Clock
	ids      harvest.IDGenerator
	catalog  harvest.Catalog
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	workerID string,
	claims harvest.ClaimStore,
	results harvest.ResultStore,
	requests harvest.RequestStore,
	contents harvest.ContentStore,
	fetcher harvest.Fetcher,
	retry harvest.RetryPolicy,
	pub harvest.Publisher,
	clock harvest.Clock,
	ids harvest.IDGenerator,
	catalog harvest.Catalog,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 16
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       workerID,
		claims:   claims,
		results:  results,
		requests: requests,
		contents: contents,
		fetcher:  fetcher,
		retry:    retry,
		pub:      pub,
		clock:    clock,
		ids:      ids,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger.With(zap.String("worker_id", workerID)),
	}
}

// Run blocks, claiming and executing tasks until the context finishes. A
// shutdown signal stops new claims; the in-flight page finishes or times
// out, then the held claim is released best-effort.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := w.pollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("poll failed", zap.Error(err))
		}
		if claimed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.IdleWait):
		}
	}
}

// pollOnce fetches one claimable batch and executes every task it wins.
// It reports whether any claim was granted.
func (w *Worker) pollOnce(ctx context.Context) (bool, error) {
	tasks, err := w.claims.SelectClaimable(ctx, w.cfg.Fingerprint, w.cfg.ClaimBatch)
	if err != nil {
		return false, fmt.Errorf("select claimable: %w", err)
	}
	claimed := false
	for _, task := range tasks {
		if ctx.Err() != nil {
			return claimed, nil
		}
		claim, err := w.claims.Claim(ctx, task.ID, w.id, w.cfg.Lease)
		if errors.Is(err, harvest.ErrClaimDenied) {
			// Expected contention: another worker got there first.
			metrics.ObserveClaim("denied")
			w.logger.Debug("claim denied", zap.String("task_id", task.ID))
			continue
		}
		if err != nil {
			return claimed, fmt.Errorf("claim task %s: %w", task.ID, err)
		}
		metrics.ObserveClaim("granted")
		claimed = true
		if err := w.executeTask(ctx, task, claim); err != nil {
			w.logger.Warn("task execution ended early",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	return claimed, nil
}

func (w *Worker) executeTask(ctx context.Context, task harvest.Task, claim harvest.Claim) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	endpoint, err := w.catalog.Lookup(task.EndpointName)
	if err != nil {
		w.release(ctx, claim.ID)
		return fmt.Errorf("resolve endpoint: %w", err)
	}

	startPage, err := w.results.MaxPage(ctx, task.ID)
	if err != nil {
		w.release(ctx, claim.ID)
		return fmt.Errorf("resumption point: %w", err)
	}
	page := startPage + 1
	if startPage > 0 {
		w.logger.Info("resuming task from recorded progress",
			zap.String("task_id", task.ID), zap.Int("next_page", page))
	}

	executing := false
	expiresAt := claim.ExpiresAt

	for {
		if ctx.Err() != nil {
			w.release(ctx, claim.ID)
			return fmt.Errorf("shutdown mid-task: %w", ctx.Err())
		}

		// Renew between pages so a slow window never outlives the lease.
		if w.clock.Now().Add(w.cfg.Lease / 2).After(expiresAt) {
			if err := w.claims.Renew(ctx, claim.ID, w.cfg.Lease); err != nil {
				// Lost the lease race: another worker may own the task now.
				// Abandon without touching the claim row.
				metrics.ObserveClaim("expired")
				return fmt.Errorf("task %s: %w", task.ID, err)
			}
			expiresAt = expiresAt.Add(w.cfg.Lease)
		}

		resp, err := w.fetchWithRetry(ctx, harvest.PageRequest{
			Endpoint:   endpoint,
			DataDate:   task.DataDate,
			Modalidade: task.Modalidade,
			Page:       page,
			PageSize:   w.cfg.PageSize,
		})
		if err != nil {
			if errors.Is(err, harvest.ErrFatalFetch) {
				w.logger.Error("fatal upstream rejection, task flagged for inspection",
					zap.String("task_id", task.ID), zap.Int("page", page), zap.Error(err))
			}
			w.release(ctx, claim.ID)
			return fmt.Errorf("fetch page %d: %w", page, err)
		}
		metrics.ObserveFetch(endpoint.Name, resp.Duration)
		metrics.ObservePage(endpoint.Name, metrics.StatusClass(resp.StatusCode), resp.RecordCount, len(resp.Body))

		if !executing {
			if err := w.claims.MarkExecuting(ctx, claim.ID); err != nil {
				metrics.ObserveClaim("expired")
				return fmt.Errorf("task %s: %w", task.ID, err)
			}
			executing = true
		}

		if err := w.persistPage(ctx, task, endpoint, page, resp); err != nil {
			w.release(ctx, claim.ID)
			return fmt.Errorf("persist page %d: %w", page, err)
		}

		if resp.LastPage() {
			w.finishTask(ctx, task, endpoint, page, resp)
			w.release(ctx, claim.ID)
			return nil
		}
		page++
	}
}

func (w *Worker) fetchWithRetry(ctx context.Context, req harvest.PageRequest) (harvest.PageResponse, error) {
	attempt := 0
	for {
		resp, err := w.fetcher.FetchPage(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !w.retry.ShouldRetry(err, attempt) {
			return harvest.PageResponse{}, err
		}
		wait := w.retry.Backoff(attempt)
		w.logger.Debug("retrying page fetch",
			zap.Int("page", req.Page), zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return harvest.PageResponse{}, ctx.Err()
		case <-time.After(wait):
		}
		attempt++
	}
}

// persistPage writes content, request and result for one fetched page.
// Content identity is digest-derived and the result insert is keyed on
// (task_id, page_number), so a replay after a crash is harmless.
func (w *Worker) persistPage(ctx context.Context, task harvest.Task, endpoint harvest.Endpoint, page int, resp harvest.PageResponse) error {
	content, err := w.contents.Put(ctx, resp.Body)
	if err != nil {
		return fmt.Errorf("store content: %w", err)
	}

	requestID, err := w.ids.NewID()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	if err := w.requests.RecordRequest(ctx, harvest.Request{
		ID:           requestID,
		EndpointName: endpoint.Name,
		EndpointURL:  resp.URL,
		DataDate:     task.DataDate,
		RunID:        w.cfg.RunID,
		Parameters:   resp.Parameters,
		ResponseCode: resp.StatusCode,
		Headers:      resp.Headers,
		TotalRecords: resp.TotalRecords,
		TotalPages:   resp.TotalPages,
		CurrentPage:  resp.CurrentPage,
		PageSize:     w.cfg.PageSize,
		ContentID:    content.ID,
	}); err != nil {
		return fmt.Errorf("record request: %w", err)
	}

	resultID, err := w.ids.NewID()
	if err != nil {
		return fmt.Errorf("result id: %w", err)
	}
	if err := w.results.AppendResult(ctx, harvest.Result{
		ID:               resultID,
		TaskID:           task.ID,
		RequestID:        requestID,
		PageNumber:       page,
		RecordsExtracted: resp.RecordCount,
		CompletedAt:      w.clock.Now(),
	}); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

func (w *Worker) finishTask(ctx context.Context, task harvest.Task, endpoint harvest.Endpoint, lastPage int, resp harvest.PageResponse) {
	metrics.ObserveTaskCompleted(endpoint.Name)
	w.logger.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("endpoint", endpoint.Name),
		zap.Int("pages", lastPage),
		zap.Int("total_records", resp.TotalRecords),
	)

	if w.pub == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"task_id":          task.ID,
		"endpoint":         endpoint.Name,
		"data_date":        task.DataDate.Format("2006-01-02"),
		"plan_fingerprint": task.PlanFingerprint,
		"pages":            lastPage,
		"total_records":    resp.TotalRecords,
		"completed_at":     w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.pub.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("completion event publish failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// release is best-effort claim cleanup. Expiry alone guarantees liveness,
// so a failed release only delays re-claim.
func (w *Worker) release(ctx context.Context, claimID string) {
	if err := w.claims.Release(ctx, claimID); err != nil {
		w.logger.Debug("claim release failed", zap.String("claim_id", claimID), zap.Error(err))
		return
	}
	metrics.ObserveClaim("released")
}
