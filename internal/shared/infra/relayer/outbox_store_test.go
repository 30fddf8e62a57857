package relayer

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	"github.com/davicafu/fulfillment/internal/saga/infra/outbound/db/sqlstore"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// Escenarios de varios ciclos contra un outbox real en SQLite con un
// colaborador que sigue caído.

var errBreakerOpen = errors.New("circuit breaker is open")

type flakyBus struct {
	mu        sync.Mutex
	down      map[string]bool // tipos de mensaje que fallan
	published []sharedEvents.Envelope
}

func (b *flakyBus) Publish(ctx context.Context, topic string, env sharedEvents.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down[env.Type] {
		return errBreakerOpen
	}
	b.published = append(b.published, env)
	return nil
}

func (b *flakyBus) setDown(eventType string, down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down[eventType] = down
}

func (b *flakyBus) typesFor(aggregate string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, env := range b.published {
		if env.CorrelationID == aggregate {
			out = append(out, env.Type)
		}
	}
	return out
}

func sagaRegistry() map[string]sharedEvents.EventMetadata {
	reg := make(map[string]sharedEvents.EventMetadata)
	for _, et := range []string{
		"order.created", "order.cancelled",
		sharedEvents.ReserveStock, sharedEvents.CreateShipment,
		sharedEvents.RefundPayment, sharedEvents.ReleaseStock,
	} {
		reg[et] = sharedEvents.EventMetadata{Type: reflect.TypeOf(testPayload{}), Topic: "topic-" + et}
	}
	return reg
}

func newOutboxStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := sqlstore.New(db, sqlstore.DialectSQLite)
	require.NoError(t, store.InitSchema(context.Background()))
	return store
}

func appendMsgs(t *testing.T, store *sqlstore.Store, aggregate string, eventTypes ...string) {
	t.Helper()
	var msgs []sharedDomain.OutboxMessage
	for _, et := range eventTypes {
		env, err := sharedEvents.NewEnvelope(aggregate, et, testPayload{OrderID: aggregate}, time.Now())
		require.NoError(t, err)
		msg, err := sharedEvents.ToOutboxMessage(env)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx sagaDomain.Tx) error {
		return tx.AppendOutbox(ctx, msgs...)
	}))
}

// Dos sagas atascadas en CreateShipment no impiden que un pedido nuevo salga,
// aunque el lote sólo tenga sitio para dos mensajes.
func TestOutboxWorker_StuckAggregatesDoNotStarveOthers(t *testing.T) {
	store := newOutboxStore(t)
	bus := &flakyBus{down: map[string]bool{sharedEvents.CreateShipment: true}}
	worker := NewOutboxWorker(store, bus, sagaRegistry(), time.Minute, 2, zap.NewNop(), WithConcurrency(2))
	ctx := context.Background()

	stuck1, stuck2, fresh := uuid.NewString(), uuid.NewString(), uuid.NewString()
	appendMsgs(t, store, stuck1, sharedEvents.CreateShipment)
	appendMsgs(t, store, stuck2, sharedEvents.CreateShipment)
	appendMsgs(t, store, fresh, "order.created", sharedEvents.ReserveStock)

	for tick := 0; tick < 10; tick++ {
		worker.ProcessBatch(ctx)
	}

	assert.Equal(t, []string{"order.created", sharedEvents.ReserveStock}, bus.typesFor(fresh))
	assert.Empty(t, bus.typesFor(stuck1))
	assert.Empty(t, bus.typesFor(stuck2))

	pending, err := store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "las cabezas atascadas siguen aplazadas")
}

// Cuando la saga falla con un comando de avance atascado, las compensaciones
// salen en orden y el comando viejo no se envía nunca, ni al recuperarse el colaborador.
func TestOutboxWorker_SupersededCommandNeverOvertakesCompensations(t *testing.T) {
	store := newOutboxStore(t)
	bus := &flakyBus{down: map[string]bool{sharedEvents.CreateShipment: true}}
	worker := NewOutboxWorker(store, bus, sagaRegistry(), time.Minute, 10, zap.NewNop())
	ctx := context.Background()

	agg := uuid.NewString()
	appendMsgs(t, store, agg, sharedEvents.CreateShipment)
	for tick := 0; tick < 5; tick++ {
		worker.ProcessBatch(ctx)
	}
	require.Empty(t, bus.typesFor(agg))

	// Vence la saga: en la misma transacción se retira el comando y se encolan compensaciones
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		n, err := tx.SupersedePending(ctx, agg, sharedEvents.ReserveStock, sharedEvents.CreateShipment)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), n)
		return nil
	}))
	appendMsgs(t, store, agg, "order.cancelled", sharedEvents.RefundPayment, sharedEvents.ReleaseStock)

	bus.setDown(sharedEvents.CreateShipment, false)
	for tick := 0; tick < 3; tick++ {
		worker.ProcessBatch(ctx)
	}

	assert.Equal(t, []string{"order.cancelled", sharedEvents.RefundPayment, sharedEvents.ReleaseStock}, bus.typesFor(agg))
}
