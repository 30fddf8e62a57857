package application

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	"github.com/davicafu/fulfillment/internal/saga/infra/outbound/db/sqlstore"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedCache "github.com/davicafu/fulfillment/internal/shared/infra/platform/cache"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := sqlstore.New(db, sqlstore.DialectSQLite)
	require.NoError(t, store.InitSchema(context.Background()))
	return store
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []sagaDomain.TransitionRecord
}

func (r *fakeRecorder) LogBatch(ctx context.Context, records []sagaDomain.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

func (r *fakeRecorder) Records() []sagaDomain.TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sagaDomain.TransitionRecord(nil), r.records...)
}

func newOrchestrator(t *testing.T, store sagaDomain.Store, recorder sagaDomain.TransitionRecorder, cache sharedCache.Cache) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(store, recorder, cache, OrchestratorConfig{
		SagaTimeout:   15 * time.Minute,
		MinOrderTotal: decimal.Zero,
	}, zap.NewNop())
	o.now = func() time.Time { return t0 }
	return o
}

// lines130 = 2×50 + 1×30
func lines130() []orderDomain.Line {
	return []orderDomain.Line{
		{ProductID: "sku-a", Quantity: 2, UnitPrice: decimal.RequireFromString("50")},
		{ProductID: "sku-b", Quantity: 1, UnitPrice: decimal.RequireFromString("30")},
	}
}

func replyEnv(t *testing.T, orderID uuid.UUID, msgType string, payload interface{}) sharedEvents.Envelope {
	t.Helper()
	env, err := sharedEvents.NewEnvelope(orderID.String(), msgType, payload, t0)
	require.NoError(t, err)
	return env
}

func stockReserved(t *testing.T, id uuid.UUID, reservation string) sharedEvents.Envelope {
	return replyEnv(t, id, sharedEvents.StockReserved,
		sharedEvents.StockReservedReply{OrderID: id.String(), ReservationID: reservation})
}

func paymentProcessed(t *testing.T, id uuid.UUID, tx string) sharedEvents.Envelope {
	return replyEnv(t, id, sharedEvents.PaymentProcessed,
		sharedEvents.PaymentProcessedReply{OrderID: id.String(), TransactionID: tx})
}

func shipmentCreated(t *testing.T, id uuid.UUID, tracking string) sharedEvents.Envelope {
	return replyEnv(t, id, sharedEvents.ShipmentCreated,
		sharedEvents.ShipmentCreatedReply{OrderID: id.String(), TrackingRef: tracking})
}

func failure(t *testing.T, id uuid.UUID, msgType, reason string) sharedEvents.Envelope {
	return replyEnv(t, id, msgType, sharedEvents.FailureReply{OrderID: id.String(), Reason: reason})
}

// pending devuelve los mensajes pendientes del outbox para un pedido, en orden.
func pending(t *testing.T, store *sqlstore.Store, id uuid.UUID) []sharedDomain.OutboxMessage {
	t.Helper()
	msgs, err := store.FetchPendingOutbox(context.Background(), 1000)
	require.NoError(t, err)
	var out []sharedDomain.OutboxMessage
	for _, m := range msgs {
		if m.AggregateID == id.String() {
			out = append(out, m)
		}
	}
	return out
}

func types(msgs []sharedDomain.OutboxMessage) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.EventType)
	}
	return out
}

func payloadEnvelope(t *testing.T, msg sharedDomain.OutboxMessage) sharedEvents.Envelope {
	t.Helper()
	var env sharedEvents.Envelope
	require.NoError(t, json.Unmarshal(msg.Payload, &env))
	return env
}

func payloadOf[T any](t *testing.T, msg sharedDomain.OutboxMessage) T {
	t.Helper()
	var env sharedEvents.Envelope
	require.NoError(t, json.Unmarshal(msg.Payload, &env))
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}
