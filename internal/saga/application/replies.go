package application

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedUtils "github.com/davicafu/fulfillment/internal/shared/infra/utils"
)

const timeoutReason = "saga timed out"

// decodeReply traduce el sobre a un disparador de la saga.
// Un payload ilegible o de otro pedido es un mensaje envenenado.
func decodeReply(env sharedEvents.Envelope) (uuid.UUID, sagaDomain.Reply, error) {
	id, err := uuid.Parse(env.CorrelationID)
	if err != nil {
		return uuid.Nil, sagaDomain.Reply{}, fmt.Errorf("%w: correlationId %q", sagaDomain.ErrPoisonMessage, env.CorrelationID)
	}
	if env.MessageID == "" {
		return uuid.Nil, sagaDomain.Reply{}, fmt.Errorf("%w: missing messageId", sagaDomain.ErrPoisonMessage)
	}

	reply := sagaDomain.Reply{Trigger: sagaDomain.Trigger(env.Type), MessageID: env.MessageID}
	var orderID string

	switch env.Type {
	case sharedEvents.StockReserved:
		p, err := decodePayload[sharedEvents.StockReservedReply](env.Payload)
		if err != nil {
			return uuid.Nil, reply, err
		}
		orderID, reply.Reference = p.OrderID, p.ReservationID
	case sharedEvents.PaymentProcessed:
		p, err := decodePayload[sharedEvents.PaymentProcessedReply](env.Payload)
		if err != nil {
			return uuid.Nil, reply, err
		}
		orderID, reply.Reference = p.OrderID, p.TransactionID
	case sharedEvents.ShipmentCreated:
		p, err := decodePayload[sharedEvents.ShipmentCreatedReply](env.Payload)
		if err != nil {
			return uuid.Nil, reply, err
		}
		orderID, reply.Reference = p.OrderID, p.TrackingRef
	case sharedEvents.StockReservationFailed, sharedEvents.PaymentFailed, sharedEvents.ShipmentCreationFailed:
		p, err := decodePayload[sharedEvents.FailureReply](env.Payload)
		if err != nil {
			return uuid.Nil, reply, err
		}
		orderID, reply.Reason = p.OrderID, sharedUtils.Coalesce(p.Reason, env.Type)
	case sharedEvents.SagaTimeout:
		p, err := decodePayload[sharedEvents.SagaTimeoutSignal](env.Payload)
		if err != nil {
			return uuid.Nil, reply, err
		}
		orderID, reply.Reason = p.OrderID, timeoutReason
	default:
		return uuid.Nil, reply, fmt.Errorf("%w: %q", sagaDomain.ErrUnknownTrigger, env.Type)
	}

	if orderID != "" && orderID != env.CorrelationID {
		return uuid.Nil, reply, fmt.Errorf("%w: payload orderId %s does not match correlationId %s",
			sagaDomain.ErrPoisonMessage, orderID, env.CorrelationID)
	}
	return id, reply, nil
}

func decodePayload[T any](data json.RawMessage) (T, error) {
	v, err := sharedUtils.DecodeAs[T](data)
	if err != nil {
		return v, fmt.Errorf("%w: %v", sagaDomain.ErrPoisonMessage, err)
	}
	return v, nil
}
