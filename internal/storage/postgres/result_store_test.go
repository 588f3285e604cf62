package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pncp-tools/harvester/internal/harvest"
)

func newResultStore(t *testing.T) (*ResultStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewResultStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestAppendResult(t *testing.T) {
	t.Parallel()

	store, mock := newResultStore(t)
	defer mock.Close()

	result := harvest.Result{
		ID:               "res-1",
		TaskID:           "task-1",
		RequestID:        "req-1",
		PageNumber:       3,
		RecordsExtracted: 50,
		CompletedAt:      testNow,
	}

	mock.ExpectExec("INSERT INTO task_result").
		WithArgs("res-1", "task-1", "req-1", 3, 50, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AppendResult(context.Background(), result))

	// A replayed insert conflicts on (task_id, page_number) and is a
	// silent no-op, not an error.
	mock.ExpectExec("INSERT INTO task_result").
		WithArgs("res-1", "task-1", "req-1", 3, 50, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.AppendResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxPage(t *testing.T) {
	t.Parallel()

	store, mock := newResultStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(2))

	page, err := store.MaxPage(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, 2, page)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("task-fresh").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(0))

	page, err = store.MaxPage(context.Background(), "task-fresh")
	require.NoError(t, err)
	require.Zero(t, page)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskCompleted(t *testing.T) {
	t.Parallel()

	store, mock := newResultStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	done, err := store.TaskCompleted(context.Background(), "task-1")
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}
