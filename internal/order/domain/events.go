package domain

import (
	"reflect"
	"time"

	"github.com/shopspring/decimal"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// Tipos de evento del agregado.
const (
	EventCreated   = "order.created"
	EventConfirmed = "order.confirmed"
	EventShipped   = "order.shipped"
	EventCancelled = "order.cancelled"
)

// Event es un evento de dominio pendiente de publicar.
type Event struct {
	Type       string
	Data       EventData
	OccurredAt time.Time
}

// EventData es el payload publicado para todos los eventos de pedido.
type EventData struct {
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	TrackingRef string          `json:"trackingRef,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// NewEventRegistry registra los eventos de pedido en el topic indicado.
func NewEventRegistry(topic string) map[string]sharedEvents.EventMetadata {
	registry := make(map[string]sharedEvents.EventMetadata)
	for _, t := range []string{EventCreated, EventConfirmed, EventShipped, EventCancelled} {
		registry[t] = sharedEvents.EventMetadata{Type: reflect.TypeOf(EventData{}), Topic: topic}
	}
	return registry
}

// CacheKeyByID es la clave de lectura en caché de un pedido.
func CacheKeyByID(id string) string {
	return "order:" + id
}
