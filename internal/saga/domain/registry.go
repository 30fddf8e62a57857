package domain

import (
	"reflect"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// Nombres de colaborador usados por el pipeline de resiliencia.
const (
	CollaboratorInventory = "inventory"
	CollaboratorPayment   = "payment"
	CollaboratorShipping  = "shipping"
)

// NewCommandRegistry registra cada comando con su payload y el topic de su colaborador.
func NewCommandRegistry(topics sharedEvents.Topics) map[string]sharedEvents.EventMetadata {
	return map[string]sharedEvents.EventMetadata{
		sharedEvents.ReserveStock: {
			Type:  reflect.TypeOf(sharedEvents.ReserveStockCommand{}),
			Topic: topics.Inventory,
		},
		sharedEvents.ReleaseStock: {
			Type:  reflect.TypeOf(sharedEvents.ReleaseStockCommand{}),
			Topic: topics.Inventory,
		},
		sharedEvents.ProcessPayment: {
			Type:  reflect.TypeOf(sharedEvents.ProcessPaymentCommand{}),
			Topic: topics.Payment,
		},
		sharedEvents.RefundPayment: {
			Type:  reflect.TypeOf(sharedEvents.RefundPaymentCommand{}),
			Topic: topics.Payment,
		},
		sharedEvents.CreateShipment: {
			Type:  reflect.TypeOf(sharedEvents.CreateShipmentCommand{}),
			Topic: topics.Shipping,
		},
	}
}

// CollaboratorTopics mapea topic de comandos → colaborador.
func CollaboratorTopics(topics sharedEvents.Topics) map[string]string {
	return map[string]string{
		topics.Inventory: CollaboratorInventory,
		topics.Payment:   CollaboratorPayment,
		topics.Shipping:  CollaboratorShipping,
	}
}
