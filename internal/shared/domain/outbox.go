package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxMessage es una intención de publicación escrita en la misma transacción
// que el cambio de estado que la origina.
type OutboxMessage struct {
	Seq         int64      `json:"seq"`
	ID          uuid.UUID  `json:"id"`
	AggregateID string     `json:"aggregate_id"` // id del pedido / correlation id
	EventType   string     `json:"event_type"`   // ej. "order.created", "ReserveStock"
	Payload     []byte     `json:"payload"`      // envelope JSON completo
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"` // nil mientras esté pendiente
	Attempts    int        `json:"attempts"`               // publicaciones fallidas
}

// Pending indica si el mensaje todavía no se ha publicado.
func (m OutboxMessage) Pending() bool {
	return m.PublishedAt == nil
}

// OutboxRepository define lo mínimo que necesita el relay.
type OutboxRepository interface {
	// FetchPendingOutbox devuelve mensajes no publicados ordenados por inserción,
	// saltando los agregados cuya cabeza está aplazada.
	FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id uuid.UUID) error
	// DeferOutbox suma un intento fallido y aplaza el mensaje hasta 'until'.
	DeferOutbox(ctx context.Context, id uuid.UUID, until time.Time) error
	// DeletePublishedBefore purga mensajes ya publicados más antiguos que 'before'.
	DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error)
}
