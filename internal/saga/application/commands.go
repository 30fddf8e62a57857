package application

import (
	"fmt"
	"time"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// buildCommands convierte las intenciones de la saga en filas de outbox.
// El MessageID de cada sobre es la clave de idempotencia para el colaborador.
func buildCommands(order *orderDomain.Order, cmds []sagaDomain.Command, now time.Time) ([]sharedDomain.OutboxMessage, error) {
	msgs := make([]sharedDomain.OutboxMessage, 0, len(cmds))
	for _, cmd := range cmds {
		payload, err := commandPayload(order, cmd)
		if err != nil {
			return nil, err
		}
		env, err := sharedEvents.NewEnvelope(order.ID.String(), string(cmd.Type), payload, now)
		if err != nil {
			return nil, err
		}
		msg, err := sharedEvents.ToOutboxMessage(env)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// forwardCommandTypes son los comandos que hacen avanzar la saga; una saga
// fallida no debe emitir ninguno que siga pendiente en el outbox.
func forwardCommandTypes() []string {
	return []string{
		string(sagaDomain.CommandReserveStock),
		string(sagaDomain.CommandProcessPayment),
		string(sagaDomain.CommandCreateShipment),
	}
}

func commandPayload(order *orderDomain.Order, cmd sagaDomain.Command) (interface{}, error) {
	orderID := order.ID.String()
	switch cmd.Type {
	case sagaDomain.CommandReserveStock:
		return sharedEvents.ReserveStockCommand{OrderID: orderID, Items: items(order)}, nil
	case sagaDomain.CommandProcessPayment:
		return sharedEvents.ProcessPaymentCommand{OrderID: orderID, CustomerID: order.CustomerID, Amount: order.Total}, nil
	case sagaDomain.CommandCreateShipment:
		return sharedEvents.CreateShipmentCommand{OrderID: orderID, CustomerID: order.CustomerID, Items: items(order)}, nil
	case sagaDomain.CommandReleaseStock:
		return sharedEvents.ReleaseStockCommand{OrderID: orderID, ReservationID: cmd.Reference}, nil
	case sagaDomain.CommandRefundPayment:
		return sharedEvents.RefundPaymentCommand{OrderID: orderID, TransactionID: cmd.Reference, Amount: order.Total}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func items(order *orderDomain.Order) []sharedEvents.Item {
	out := make([]sharedEvents.Item, 0, len(order.Lines))
	for _, l := range order.Lines {
		out = append(out, sharedEvents.Item{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return out
}
