package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
)

// Store es el almacenamiento durable de pedidos, sagas, outbox e inbox.
type Store interface {
	// WithinTx ejecuta fn en una transacción; si fn devuelve error se hace rollback.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetSaga(ctx context.Context, id uuid.UUID) (*Saga, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error)
	// ListExpired devuelve sagas no terminadas cuyo plazo ya pasó.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Tx agrupa las operaciones que deben confirmarse juntas.
type Tx interface {
	// TryMarkProcessed devuelve true si el id no se había visto antes.
	TryMarkProcessed(ctx context.Context, messageID string) (bool, error)
	AppendOutbox(ctx context.Context, msgs ...sharedDomain.OutboxMessage) error
	// SupersedePending retira del outbox los mensajes pendientes del agregado con esos tipos.
	SupersedePending(ctx context.Context, aggregateID string, eventTypes ...string) (int64, error)

	CreateOrder(ctx context.Context, o *orderDomain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error)
	// UpdateOrder persiste el pedido y vuelca sus eventos pendientes al outbox.
	UpdateOrder(ctx context.Context, o *orderDomain.Order) error

	CreateSaga(ctx context.Context, s *Saga) error
	// GetSagaForUpdate bloquea la fila hasta el fin de la transacción.
	GetSagaForUpdate(ctx context.Context, id uuid.UUID) (*Saga, error)
	// UpdateSaga falla con ErrVersionConflict si la versión cambió.
	UpdateSaga(ctx context.Context, s *Saga) error
}

// TransitionRecord es una fila del histórico de transiciones.
type TransitionRecord struct {
	CorrelationID uuid.UUID
	From          State
	To            State
	Trigger       Trigger
	MessageID     string
	Reason        string
	OccurredAt    time.Time
}

// TransitionRecorder guarda el histórico para analítica. No forma parte de la transacción.
type TransitionRecorder interface {
	LogBatch(ctx context.Context, records []TransitionRecord) error
}

// FailureCount resume cuántas sagas fallaron por un mismo motivo.
type FailureCount struct {
	Reason string `json:"reason"`
	Total  uint64 `json:"total"`
}

// FailureStats consulta el histórico de fallos.
type FailureStats interface {
	FailuresByReason(ctx context.Context, since time.Time) ([]FailureCount, error)
}
