package postgres

import (
	"context"
	"fmt"

	"github.com/pncp-tools/harvester/internal/harvest"
	"github.com/pncp-tools/harvester/internal/hash/sha256"
)

// ContentStore implements harvest.ContentStore against Postgres.
//
// Identity is content-derived, so the upsert is naturally idempotent across
// workers with no coordination: byte-identical payloads always target the
// same row, and a conflicting insert just bumps the reference count.
type ContentStore struct {
	pool   DBPool
	hasher *sha256.Hasher
	clock  harvest.Clock
}

// NewContentStore constructs a ContentStore over an existing pool.
func NewContentStore(pool DBPool, clock harvest.Clock) (*ContentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &ContentStore{pool: pool, hasher: sha256.New(), clock: clock}, nil
}

// Put stores the payload once and reference counts repeats.
func (s *ContentStore) Put(ctx context.Context, body []byte) (harvest.Content, error) {
	digest, err := s.hasher.Hash(body)
	if err != nil {
		return harvest.Content{}, fmt.Errorf("hash payload: %w", err)
	}
	contentID := sha256.ContentID(body)
	now := s.clock.Now()

	query := `
INSERT INTO content (content_id, content_sha256, content_size_bytes, reference_count, content_bytes, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, 1, $4, $5, $5)
ON CONFLICT (content_id) DO UPDATE
SET reference_count = content.reference_count + 1,
    last_seen_at = EXCLUDED.last_seen_at
RETURNING content_id, content_sha256, content_size_bytes, reference_count, first_seen_at, last_seen_at`

	var content harvest.Content
	err = s.pool.QueryRow(ctx, query, contentID, digest, int64(len(body)), body, now).Scan(
		&content.ID,
		&content.SHA256,
		&content.SizeBytes,
		&content.ReferenceCount,
		&content.FirstSeenAt,
		&content.LastSeenAt,
	)
	if err != nil {
		return harvest.Content{}, fmt.Errorf("put content: %w", err)
	}
	return content, nil
}

// Release decrements the reference count, flooring at zero. A zero count
// marks the row eligible for reclamation by an explicit maintenance step;
// nothing is deleted here.
func (s *ContentStore) Release(ctx context.Context, contentID string) error {
	query := `
UPDATE content
SET reference_count = GREATEST(reference_count - 1, 0)
WHERE content_id = $1`
	tag, err := s.pool.Exec(ctx, query, contentID)
	if err != nil {
		return fmt.Errorf("release content %s: %w", contentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("content %s: %w", contentID, harvest.ErrNotFound)
	}
	return nil
}

// Stats reports the dedup efficiency of the table.
func (s *ContentStore) Stats(ctx context.Context) (harvest.ContentStats, error) {
	query := `
SELECT COUNT(*),
       COALESCE(SUM(content_size_bytes), 0),
       COALESCE(SUM(content_size_bytes * reference_count), 0)
FROM content`
	var stats harvest.ContentStats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.DistinctPayloads,
		&stats.PhysicalBytes,
		&stats.LogicalBytes,
	)
	if err != nil {
		return harvest.ContentStats{}, fmt.Errorf("content stats: %w", err)
	}
	return stats, nil
}
