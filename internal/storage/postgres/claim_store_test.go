package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pncp-tools/harvester/internal/harvest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeIDGen struct{ id string }

func (g fakeIDGen) NewID() (string, error) { return g.id, nil }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newClaimStore(t *testing.T) (*ClaimStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewClaimStore(mock, fixedClock{now: testNow}, fakeIDGen{id: "claim-1"})
	require.NoError(t, err)
	return store, mock
}

func TestClaimGranted(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	lease := time.Minute
	mock.ExpectExec("WITH lapsed AS").
		WithArgs("claim-1", "task-1", "worker-a", testNow, testNow.Add(lease)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	claim, err := store.Claim(context.Background(), "task-1", "worker-a", lease)
	require.NoError(t, err)
	require.Equal(t, "claim-1", claim.ID)
	require.Equal(t, "task-1", claim.TaskID)
	require.Equal(t, harvest.ClaimStatusClaimed, claim.Status)
	require.Equal(t, testNow.Add(lease), claim.ExpiresAt)
	require.True(t, claim.Live(testNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDeniedWhileLiveLeaseExists(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	// The conditional insert hits the live-claim unique index and affects
	// zero rows: the contention signal, not an error.
	mock.ExpectExec("WITH lapsed AS").
		WithArgs("claim-1", "task-1", "worker-b", testNow, testNow.Add(time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err := store.Claim(context.Background(), "task-1", "worker-b", time.Minute)
	require.ErrorIs(t, err, harvest.ErrClaimDenied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewExtendsLiveLease(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE task_claim").
		WithArgs("claim-1", time.Minute, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Renew(context.Background(), "claim-1", time.Minute))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewLapsedLeaseFails(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE task_claim").
		WithArgs("claim-1", time.Minute, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Renew(context.Background(), "claim-1", time.Minute)
	require.ErrorIs(t, err, harvest.ErrLeaseExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExecutingGuardedByExpiry(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE task_claim").
		WithArgs("claim-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkExecuting(context.Background(), "claim-1"))

	mock.ExpectExec("UPDATE task_claim").
		WithArgs("claim-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := store.MarkExecuting(context.Background(), "claim-1")
	require.ErrorIs(t, err, harvest.ErrLeaseExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseIsBestEffort(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	// Zero rows affected is fine: the lease may already have expired.
	mock.ExpectExec("UPDATE task_claim").
		WithArgs("claim-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Release(context.Background(), "claim-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectClaimable(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mod := 6
	rows := pgxmock.NewRows([]string{"task_id", "endpoint_name", "data_date", "modalidade", "plan_fingerprint", "created_at"}).
		AddRow("task-old", "contratacoes-publicacao", date, &mod, "fp", testNow.Add(-time.Hour)).
		AddRow("task-new", "atas", date, (*int)(nil), "fp", testNow)

	mock.ExpectQuery("SELECT t.task_id").
		WithArgs("fp", testNow, 10).
		WillReturnRows(rows)

	tasks, err := store.SelectClaimable(context.Background(), "fp", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "task-old", tasks[0].ID)
	require.NotNil(t, tasks[0].Modalidade)
	require.Equal(t, 6, *tasks[0].Modalidade)
	require.Nil(t, tasks[1].Modalidade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveClaimNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newClaimStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT claim_id").
		WithArgs("task-1", testNow).
		WillReturnRows(pgxmock.NewRows([]string{"claim_id", "task_id", "worker_id", "claimed_at", "expires_at", "status"}))

	_, err := store.LiveClaim(context.Background(), "task-1")
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
