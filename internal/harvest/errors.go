package harvest

import "errors"

// Sentinel errors shared across the pipeline. Claim denials and lease
// expiries are expected steady-state contention signals, not failures:
// callers log them at low severity and move on to other tasks.
var (
	// ErrInvalidConfiguration marks bad planning inputs. Fatal to the
	// planning run and surfaced to the operator.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrClaimDenied means another worker holds a live lease on the task.
	ErrClaimDenied = errors.New("claim denied")

	// ErrLeaseExpired means a renew or status transition lost its race
	// against the wall clock. The holder must abandon the task; any
	// further writes under the claim are rejected.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrTransientFetch marks a retryable upstream failure (network
	// errors, 429, 5xx). Retried with backoff up to the budget, then
	// converted into a claim release.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrFatalFetch marks a non-retryable upstream rejection. The task is
	// released and flagged for inspection, never silently dropped.
	ErrFatalFetch = errors.New("fatal fetch error")

	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")
)
