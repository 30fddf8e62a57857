package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope es el sobre común de comandos, respuestas y eventos de integración.
type Envelope struct {
	MessageID     string          `json:"messageId"`
	CorrelationID string          `json:"correlationId"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// PartitionKey agrupa por saga en el broker.
func (e Envelope) PartitionKey() string {
	return e.CorrelationID
}

// EventMetadata asocia un tipo de mensaje con su payload y su topic.
type EventMetadata struct {
	Type  reflect.Type
	Topic string
}

// NewEnvelope serializa el payload y genera un MessageID nuevo.
func NewEnvelope(correlationID, msgType string, payload interface{}, now time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		Type:          msgType,
		Payload:       data,
		OccurredAt:    now.UTC(),
	}, nil
}

// DecodeEnvelope parsea y valida la cabecera de un mensaje entrante.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.MessageID == "" {
		return Envelope{}, fmt.Errorf("%w: missing messageId", ErrInvalidEnvelope)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	if _, err := uuid.Parse(env.CorrelationID); err != nil {
		return Envelope{}, fmt.Errorf("%w: correlationId %q: %v", ErrInvalidEnvelope, env.CorrelationID, err)
	}
	return env, nil
}

// ToOutboxMessage convierte el sobre en una fila de outbox lista para insertar.
func ToOutboxMessage(env Envelope) (sharedDomain.OutboxMessage, error) {
	id, err := uuid.Parse(env.MessageID)
	if err != nil {
		return sharedDomain.OutboxMessage{}, fmt.Errorf("outbox message id %q: %w", env.MessageID, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return sharedDomain.OutboxMessage{}, err
	}
	return sharedDomain.OutboxMessage{
		ID:          id,
		AggregateID: env.CorrelationID,
		EventType:   env.Type,
		Payload:     data,
		CreatedAt:   env.OccurredAt,
	}, nil
}
