package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// :memory: es por conexión; una sola conexión comparte la base entre transacciones.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, DialectSQLite)
	require.NoError(t, store.InitSchema(context.Background()))
	return store
}

func newOrder(t *testing.T) *orderDomain.Order {
	t.Helper()
	o, err := orderDomain.Create("cust-1", []orderDomain.Line{
		{ProductID: "sku-a", Quantity: 2, UnitPrice: decimal.RequireFromString("50")},
		{ProductID: "sku-b", Quantity: 1, UnitPrice: decimal.RequireFromString("30")},
	}, decimal.Zero)
	require.NoError(t, err)
	return o
}

func outboxMessage(t *testing.T, aggregate, msgType string) sharedDomain.OutboxMessage {
	t.Helper()
	env, err := sharedEvents.NewEnvelope(aggregate, msgType, map[string]string{"k": "v"}, time.Now())
	require.NoError(t, err)
	msg, err := sharedEvents.ToOutboxMessage(env)
	require.NoError(t, err)
	return msg
}

func TestInbox_TryMarkProcessed(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	var first, second bool
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		var err error
		first, err = tx.TryMarkProcessed(ctx, "msg-1")
		return err
	}))
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		var err error
		second, err = tx.TryMarkProcessed(ctx, "msg-1")
		return err
	}))

	assert.True(t, first)
	assert.False(t, second)
}

func TestWithinTx_RollbackDiscardsEverything(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		if _, err := tx.TryMarkProcessed(ctx, "msg-rollback"); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, outboxMessage(t, uuid.NewString(), sharedEvents.ReserveStock)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	pending, err := store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// El inbox tampoco quedó marcado.
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		fresh, err := tx.TryMarkProcessed(ctx, "msg-rollback")
		assert.True(t, fresh)
		return err
	}))
}

func TestOrder_CreateAndUpdateWriteOutbox(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	o := newOrder(t)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		return tx.CreateOrder(ctx, o)
	}))
	assert.Empty(t, o.PendingEvents())

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		loaded, err := tx.GetOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := loaded.Confirm(); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, loaded)
	}))

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orderDomain.StatusConfirmed, got.Status)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("130")))
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "sku-a", got.Lines[0].ProductID)

	pending, err := store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, orderDomain.EventCreated, pending[0].EventType)
	assert.Equal(t, orderDomain.EventConfirmed, pending[1].EventType)
	assert.Equal(t, o.ID.String(), pending[0].AggregateID)

	var env sharedEvents.Envelope
	require.NoError(t, json.Unmarshal(pending[1].Payload, &env))
	assert.Equal(t, pending[1].ID.String(), env.MessageID)
	assert.Equal(t, o.ID.String(), env.CorrelationID)
}

func TestOrder_NotFound(t *testing.T) {
	store := newSQLiteStore(t)
	_, err := store.GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, orderDomain.ErrOrderNotFound)
}

func TestSaga_VersionConflict(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	s, _ := sagaDomain.New(uuid.New(), time.Now(), time.Minute)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		return tx.CreateSaga(ctx, s)
	}))

	stale, err := store.GetSaga(ctx, s.CorrelationID)
	require.NoError(t, err)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		fresh, err := tx.GetSagaForUpdate(ctx, s.CorrelationID)
		if err != nil {
			return err
		}
		fresh.Apply(sagaDomain.Reply{Trigger: sagaDomain.TriggerStockReserved, Reference: "res-1"}, time.Now())
		return tx.UpdateSaga(ctx, fresh)
	}))

	err = store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		stale.Apply(sagaDomain.Reply{Trigger: sagaDomain.TriggerStockReservationFailed}, time.Now())
		return tx.UpdateSaga(ctx, stale)
	})
	assert.ErrorIs(t, err, sagaDomain.ErrVersionConflict)

	got, err := store.GetSaga(ctx, s.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StateStockReserved, got.State)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "res-1", got.Steps[0].Reference)
	assert.Equal(t, s.DeadlineAt.UnixMilli(), got.DeadlineAt.UnixMilli())
}

func TestSaga_NotFound(t *testing.T) {
	store := newSQLiteStore(t)
	_, err := store.GetSaga(context.Background(), uuid.New())
	assert.ErrorIs(t, err, sagaDomain.ErrSagaNotFound)
}

func TestListExpired(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired, _ := sagaDomain.New(uuid.New(), now.Add(-time.Hour), time.Minute)
	alive, _ := sagaDomain.New(uuid.New(), now, time.Hour)
	done, _ := sagaDomain.New(uuid.New(), now.Add(-time.Hour), time.Minute)
	done.Apply(sagaDomain.Reply{Trigger: sagaDomain.TriggerStockReservationFailed}, now)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		for _, s := range []*sagaDomain.Saga{expired, alive, done} {
			if err := tx.CreateSaga(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}))

	ids, err := store.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{expired.CorrelationID}, ids)
}

func TestOutbox_FetchMarkAndCleanup(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	agg := uuid.NewString()

	msgs := []sharedDomain.OutboxMessage{
		outboxMessage(t, agg, sharedEvents.ReserveStock),
		outboxMessage(t, agg, sharedEvents.ProcessPayment),
		outboxMessage(t, agg, sharedEvents.CreateShipment),
	}
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		return tx.AppendOutbox(ctx, msgs...)
	}))

	pending, err := store.FetchPendingOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, sharedEvents.ReserveStock, pending[0].EventType)
	assert.Less(t, pending[0].Seq, pending[1].Seq)

	require.NoError(t, store.MarkOutboxPublished(ctx, pending[0].ID))
	assert.Error(t, store.MarkOutboxPublished(ctx, pending[0].ID), "no se publica dos veces")

	pending, err = store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, sharedEvents.ProcessPayment, pending[0].EventType)

	deleted, err := store.DeletePublishedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestOutbox_DeferredHeadHidesWholeAggregate(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	stuck, other := uuid.NewString(), uuid.NewString()

	head := outboxMessage(t, stuck, sharedEvents.CreateShipment)
	tail := outboxMessage(t, stuck, sharedEvents.RefundPayment)
	fresh := outboxMessage(t, other, sharedEvents.ReserveStock)
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		return tx.AppendOutbox(ctx, head, tail, fresh)
	}))

	require.NoError(t, store.DeferOutbox(ctx, head.ID, time.Now().Add(time.Hour)))

	// Con lote 1 el agregado aplazado no ocupa el hueco
	pending, err := store.FetchPendingOutbox(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	// Vencido el aplazamiento vuelve en orden y con el intento contado
	require.NoError(t, store.DeferOutbox(ctx, head.ID, time.Now().Add(-time.Second)))
	pending, err = store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, head.ID, pending[0].ID)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, tail.ID, pending[1].ID)

	require.NoError(t, store.MarkOutboxPublished(ctx, head.ID))
	assert.Error(t, store.DeferOutbox(ctx, head.ID, time.Now()), "un mensaje publicado no se aplaza")
}

func TestTx_SupersedePendingOnlyTouchesGivenTypes(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	agg, other := uuid.NewString(), uuid.NewString()

	shipment := outboxMessage(t, agg, sharedEvents.CreateShipment)
	refund := outboxMessage(t, agg, sharedEvents.RefundPayment)
	otherShipment := outboxMessage(t, other, sharedEvents.CreateShipment)
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		return tx.AppendOutbox(ctx, shipment, refund, otherShipment)
	}))

	var superseded int64
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		var err error
		superseded, err = tx.SupersedePending(ctx, agg,
			sharedEvents.ReserveStock, sharedEvents.ProcessPayment, sharedEvents.CreateShipment)
		return err
	}))
	assert.Equal(t, int64(1), superseded)

	pending, err := store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, m := range pending {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []uuid.UUID{refund.ID, otherShipment.ID}, ids)

	// El relay que lo estaba publicando puede marcarlo sin error
	require.NoError(t, store.MarkOutboxPublished(ctx, shipment.ID))
	assert.Error(t, store.MarkOutboxPublished(ctx, uuid.New()))

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		n, err := tx.SupersedePending(ctx, agg)
		assert.Zero(t, n)
		return err
	}))
}

func TestSupersedePendingQuery_Placeholders(t *testing.T) {
	q := supersedePendingQuery(3)
	assert.Contains(t, q, "event_type IN (?, ?, ?)")

	pg := New(nil, DialectPostgres)
	assert.Contains(t, pg.bind(q), "event_type IN ($4, $5, $6)")
}
