// Package status derives task lifecycle state on demand from the plan,
// claim and result relations. Nothing here writes; the downstream
// transformation layer uses the same derivation to decide extraction
// completeness per (endpoint, date) before running dependent work.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// Aggregator joins claims and results into derived task status.
type Aggregator struct {
	claims  harvest.ClaimStore
	results harvest.ResultStore
	reader  harvest.StatusReader
	clock   harvest.Clock
}

// New constructs an Aggregator.
func New(claims harvest.ClaimStore, results harvest.ResultStore, reader harvest.StatusReader, clock harvest.Clock) *Aggregator {
	return &Aggregator{claims: claims, results: results, reader: reader, clock: clock}
}

// TaskStatus computes the derived status: COMPLETED wins over a live lease,
// a live lease over PENDING. A stale claim row never shadows completion.
func (a *Aggregator) TaskStatus(ctx context.Context, taskID string) (harvest.TaskStatus, error) {
	done, err := a.results.TaskCompleted(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("check completion: %w", err)
	}
	if done {
		return harvest.TaskStatusCompleted, nil
	}

	claim, err := a.claims.LiveClaim(ctx, taskID)
	switch {
	case errors.Is(err, harvest.ErrNotFound):
		return harvest.TaskStatusPending, nil
	case err != nil:
		return "", fmt.Errorf("check live claim: %w", err)
	}

	if !claim.Live(a.clock.Now()) {
		return harvest.TaskStatusPending, nil
	}
	if claim.Status == harvest.ClaimStatusExecuting {
		return harvest.TaskStatusExecuting, nil
	}
	return harvest.TaskStatusClaimed, nil
}

// PlanSummary aggregates derived status over every task of a plan.
func (a *Aggregator) PlanSummary(ctx context.Context, fingerprint string) (harvest.PlanSummary, error) {
	summary, err := a.reader.PlanSummary(ctx, fingerprint)
	if err != nil {
		return harvest.PlanSummary{}, fmt.Errorf("plan summary: %w", err)
	}
	return summary, nil
}
