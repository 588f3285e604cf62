package harvest

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the closed set of lease states persisted in task_claim.
type ClaimStatus string

// Claim status values. A claim is "live" while CLAIMED or EXECUTING and its
// expiry is in the future; everything else is history.
const (
	ClaimStatusClaimed   ClaimStatus = "CLAIMED"
	ClaimStatusExecuting ClaimStatus = "EXECUTING"
	ClaimStatusReleased  ClaimStatus = "RELEASED"
	ClaimStatusExpired   ClaimStatus = "EXPIRED"
)

// TaskStatus is the derived lifecycle state of a task. It is never stored;
// the status aggregator computes it from the plan, claims and results.
type TaskStatus string

// Derived task status values.
const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusClaimed   TaskStatus = "CLAIMED"
	TaskStatusExecuting TaskStatus = "EXECUTING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

// Task is one (endpoint, date, modality) unit of extraction work. Identity
// is a pure function of the defining parameters plus the plan fingerprint,
// so replanning with unchanged inputs reproduces identical IDs.
type Task struct {
	ID              string     `json:"task_id"`
	EndpointName    string     `json:"endpoint_name"`
	DataDate        time.Time  `json:"data_date"`
	Modalidade      *int       `json:"modalidade,omitempty"`
	PlanFingerprint string     `json:"plan_fingerprint"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Claim is a time-bounded exclusive lease on a task held by one worker.
type Claim struct {
	ID        string      `json:"claim_id"`
	TaskID    string      `json:"task_id"`
	WorkerID  string      `json:"worker_id"`
	ClaimedAt time.Time   `json:"claimed_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Status    ClaimStatus `json:"status"`
}

// Live reports whether the claim still excludes other workers at the given
// instant. Expiry is computed from wall-clock time, never asserted by the
// worker holding the lease.
func (c Claim) Live(now time.Time) bool {
	if c.Status != ClaimStatusClaimed && c.Status != ClaimStatusExecuting {
		return false
	}
	return c.ExpiresAt.After(now)
}

// Result records one durably persisted page fetch. Rows are append-only;
// the maximum page number per task decides the resumption point.
type Result struct {
	ID               string    `json:"result_id"`
	TaskID           string    `json:"task_id"`
	RequestID        string    `json:"request_id"`
	PageNumber       int       `json:"page_number"`
	RecordsExtracted int       `json:"records_extracted"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Content is one deduplicated response payload, keyed by a digest-derived
// identifier and reference counted by the requests pointing at it.
type Content struct {
	ID             uuid.UUID `json:"content_id"`
	SHA256         string    `json:"content_sha256"`
	SizeBytes      int64     `json:"content_size_bytes"`
	ReferenceCount int64     `json:"reference_count"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// ContentStats summarizes the storage efficiency of the content table.
// LogicalBytes is what an undeduplicated store would hold; the difference
// against PhysicalBytes is the reproducible "bytes saved" metric.
type ContentStats struct {
	DistinctPayloads int64 `json:"distinct_payloads"`
	PhysicalBytes    int64 `json:"physical_bytes"`
	LogicalBytes     int64 `json:"logical_bytes"`
}

// BytesSaved returns LogicalBytes - PhysicalBytes.
func (s ContentStats) BytesSaved() int64 {
	return s.LogicalBytes - s.PhysicalBytes
}

// Request records the metadata of one upstream page fetch. Many requests may
// share one content row; the payload itself lives only in the content table.
type Request struct {
	ID            string      `json:"id"`
	EndpointName  string      `json:"endpoint_name"`
	EndpointURL   string      `json:"endpoint_url"`
	DataDate      time.Time   `json:"data_date"`
	RunID         string      `json:"run_id"`
	Parameters    map[string]string `json:"request_parameters"`
	ResponseCode  int         `json:"response_code"`
	Headers       http.Header `json:"response_headers"`
	TotalRecords  int         `json:"total_records"`
	TotalPages    int         `json:"total_pages"`
	CurrentPage   int         `json:"current_page"`
	PageSize      int         `json:"page_size"`
	ContentID     uuid.UUID   `json:"content_id"`
}

// PlanMetadata is one row of the append-only plan history. A changed
// fingerprint between rows signals configuration drift.
type PlanMetadata struct {
	Fingerprint    string    `json:"plan_fingerprint"`
	Environment    string    `json:"environment"`
	DateRangeStart time.Time `json:"date_range_start"`
	DateRangeEnd   time.Time `json:"date_range_end"`
	GeneratedAt    time.Time `json:"generated_at"`
	ConfigVersion  string    `json:"config_version"`
	TaskCount      int       `json:"task_count"`
}

// PlanSummary is the aggregated status of all tasks under one fingerprint.
type PlanSummary struct {
	Fingerprint string `json:"plan_fingerprint"`
	Total       int64  `json:"total"`
	Completed   int64  `json:"completed"`
	Claimed     int64  `json:"claimed"`
	Pending     int64  `json:"pending"`
}

// PageRequest identifies one page of one endpoint for one task.
type PageRequest struct {
	Endpoint   Endpoint
	DataDate   time.Time
	Modalidade *int
	Page       int
	PageSize   int
}

// PageResponse carries the raw body plus the parsed pagination envelope of
// one successful upstream fetch.
type PageResponse struct {
	URL            string
	StatusCode     int
	Headers        http.Header
	Body           []byte
	Parameters     map[string]string
	TotalRecords   int
	TotalPages     int
	CurrentPage    int
	PagesRemaining int
	RecordCount    int
	Duration       time.Duration
}

// LastPage reports whether the upstream signaled no further pages.
func (r PageResponse) LastPage() bool {
	if r.TotalPages <= 0 {
		return true
	}
	return r.PagesRemaining <= 0 || r.CurrentPage >= r.TotalPages
}
