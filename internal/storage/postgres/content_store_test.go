package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pncp-tools/harvester/internal/harvest"
	"github.com/pncp-tools/harvester/internal/hash/sha256"
)

func newContentStore(t *testing.T) (*ContentStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewContentStore(mock, fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestPutFirstSight(t *testing.T) {
	t.Parallel()

	store, mock := newContentStore(t)
	defer mock.Close()

	body := []byte(`{"data":[{"id":1}]}`)
	wantID := sha256.ContentID(body)
	hasher := sha256.New()
	wantDigest, err := hasher.Hash(body)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"content_id", "content_sha256", "content_size_bytes", "reference_count", "first_seen_at", "last_seen_at"}).
		AddRow(wantID, wantDigest, int64(len(body)), int64(1), testNow, testNow)

	mock.ExpectQuery("INSERT INTO content").
		WithArgs(wantID, wantDigest, int64(len(body)), body, testNow).
		WillReturnRows(rows)

	content, err := store.Put(context.Background(), body)
	require.NoError(t, err)
	require.Equal(t, wantID, content.ID)
	require.Equal(t, wantDigest, content.SHA256)
	require.Equal(t, int64(1), content.ReferenceCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutRepeatBumpsReferenceCount(t *testing.T) {
	t.Parallel()

	store, mock := newContentStore(t)
	defer mock.Close()

	body := []byte("same payload, second worker")
	wantID := sha256.ContentID(body)
	digest, err := sha256.New().Hash(body)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"content_id", "content_sha256", "content_size_bytes", "reference_count", "first_seen_at", "last_seen_at"}).
		AddRow(wantID, digest, int64(len(body)), int64(2), testNow.Add(-1e9), testNow)

	mock.ExpectQuery("INSERT INTO content").
		WithArgs(wantID, digest, int64(len(body)), body, testNow).
		WillReturnRows(rows)

	content, err := store.Put(context.Background(), body)
	require.NoError(t, err)
	require.Equal(t, int64(2), content.ReferenceCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseFloorsAtZero(t *testing.T) {
	t.Parallel()

	store, mock := newContentStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE content").
		WithArgs("some-content-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Release(context.Background(), "some-content-id"))

	mock.ExpectExec("UPDATE content").
		WithArgs("missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Release(context.Background(), "missing-id")
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsReportsBytesSaved(t *testing.T) {
	t.Parallel()

	store, mock := newContentStore(t)
	defer mock.Close()

	// One 500KB payload referenced twice: logical 1,000,000 bytes,
	// physical 500,000 bytes, 500,000 saved.
	rows := pgxmock.NewRows([]string{"count", "physical", "logical"}).
		AddRow(int64(1), int64(500000), int64(1000000))

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(rows)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.DistinctPayloads)
	require.Equal(t, int64(500000), stats.BytesSaved())
	require.NoError(t, mock.ExpectationsWereMet())
}
