package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"wahagate/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T, driver string) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	db, err := NewWithDB(conn, driver)
	require.NoError(t, err)
	return db, mock
}

func TestNewWithDBRejectsUnknownDriver(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewWithDB(conn, "mysql")
	assert.Error(t, err)
}

func TestPostgresPlaceholdersAreRebound(t *testing.T) {
	db, mock := newMockDB(t, "postgres")

	mock.ExpectExec(`INSERT INTO idempotency_markers .* VALUES \(\$1, \$2, \$3\)`).
		WithArgs("org-1", "evt-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := db.InsertMarker(context.Background(), nil, "org-1", "evt-1", time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMarkerErrors(t *testing.T) {
	db, mock := newMockDB(t, "sqlite3")

	mock.ExpectExec(`INSERT INTO idempotency_markers`).WillReturnError(errors.New("disk full"))
	_, err := db.InsertMarker(context.Background(), nil, "org-1", "evt-1", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert idempotency marker")

	mock.ExpectExec(`INSERT INTO idempotency_markers`).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("no rows affected support")))
	_, err = db.InsertMarker(context.Background(), nil, "org-1", "evt-1", time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRetriesTransientFailure(t *testing.T) {
	db, mock := newMockDB(t, "sqlite3")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO idempotency_markers`).WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO idempotency_markers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(q Querier) error {
		_, err := db.InsertMarker(context.Background(), q, "org-1", "evt-1", time.Now())
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitFailure(t *testing.T) {
	db, mock := newMockDB(t, "sqlite3")

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("constraint failed on commit"))

	err := db.WithTx(context.Background(), func(q Querier) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
}

func TestGetEventQueryError(t *testing.T) {
	db, mock := newMockDB(t, "sqlite3")

	mock.ExpectQuery(`SELECT .* FROM inbound_events WHERE id = \?`).WillReturnError(errors.New("connection reset"))
	_, err := db.GetEvent(context.Background(), "id-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(`SELECT .* FROM inbound_events WHERE id = \?`).WillReturnError(sql.ErrNoRows)
	_, err = db.GetEvent(context.Background(), "id-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndSwapSessionConflict(t *testing.T) {
	db, mock := newMockDB(t, "sqlite3")

	mock.ExpectExec(`UPDATE sessions SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	s := &models.Session{OrgID: "org-1", SessionID: "sess-A", Status: models.SessionWorking, Version: 4}
	ok, err := db.CompareAndSwapSession(context.Background(), nil, s, 4)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(4), s.Version)
}

func TestDueDeliveriesQueryError(t *testing.T) {
	db, mock := newMockDB(t, "sqlite3")

	mock.ExpectQuery(`FROM webhook_deliveries`).WillReturnError(errors.New("boom"))
	_, err := db.DueDeliveries(context.Background(), time.Now(), 10)
	assert.Error(t, err)
}
