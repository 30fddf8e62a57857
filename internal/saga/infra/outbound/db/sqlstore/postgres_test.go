package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
)

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, DialectPostgres), mock
}

func TestBind_Postgres(t *testing.T) {
	store := New(nil, DialectPostgres)
	assert.Equal(t, "VALUES ($1, $2) WHERE x = $3", store.bind("VALUES (?, ?) WHERE x = ?"))

	lite := New(nil, DialectSQLite)
	assert.Equal(t, "VALUES (?, ?)", lite.bind("VALUES (?, ?)"))
}

func TestPostgres_InitSchema(t *testing.T) {
	store, mock := newPostgresMock(t)
	for _, stmt := range postgresSchema {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TryMarkProcessedDuplicate(t *testing.T) {
	store, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(store.bind(queryInsertInbox)).
		WithArgs("msg-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var fresh bool
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx sagaDomain.Tx) error {
		var err error
		fresh, err = tx.TryMarkProcessed(ctx, "msg-1")
		return err
	})

	require.NoError(t, err)
	assert.False(t, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetSagaForUpdateLocksRow(t *testing.T) {
	store, mock := newPostgresMock(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(store.bind(querySelectSaga + " FOR UPDATE")).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"correlation_id", "state", "steps", "failure_reason", "created_at", "updated_at", "deadline_ms", "version",
		}).AddRow(id.String(), "stock_reserved", []byte(`[{"name":"reserve_stock","reference":"res-1","completedAt":"2025-03-01T10:00:00Z"}]`), "", now, now, now.Add(time.Minute).UnixMilli(), int64(4)))
	mock.ExpectCommit()

	var got *sagaDomain.Saga
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx sagaDomain.Tx) error {
		var err error
		got, err = tx.GetSagaForUpdate(ctx, id)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StateStockReserved, got.State)
	assert.Equal(t, int64(4), got.Version)
	step, ok := got.Step(sagaDomain.StepReserveStock)
	assert.True(t, ok)
	assert.Equal(t, "res-1", step.Reference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateSagaVersionConflictRollsBack(t *testing.T) {
	store, mock := newPostgresMock(t)
	s, _ := sagaDomain.New(uuid.New(), time.Now(), time.Minute)
	s.Version = 3

	mock.ExpectBegin()
	mock.ExpectExec(store.bind(queryUpdateSaga)).
		WithArgs("started", "null", "", sqlmock.AnyArg(), s.CorrelationID.String(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx sagaDomain.Tx) error {
		return tx.UpdateSaga(ctx, s)
	})

	assert.ErrorIs(t, err, sagaDomain.ErrVersionConflict)
	assert.Equal(t, int64(3), s.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListExpired(t *testing.T) {
	store, mock := newPostgresMock(t)
	now := time.Now().UTC()
	id := uuid.New()

	mock.ExpectQuery(store.bind(queryListExpired)).
		WithArgs("completed", "failed", now.UnixMilli(), 50).
		WillReturnRows(sqlmock.NewRows([]string{"correlation_id"}).AddRow(id.String()))

	ids, err := store.ListExpired(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
