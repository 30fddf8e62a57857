package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeadLetter guarda un mensaje entrante que no se pudo procesar.
type DeadLetter struct {
	ID         uuid.UUID `json:"id"`
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload"`
	Reason     string    `json:"reason"`
	ReceivedAt time.Time `json:"received_at"`
}

type DeadLetterSink interface {
	Store(ctx context.Context, dl DeadLetter) error
}
