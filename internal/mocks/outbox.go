package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// MockOutboxRepository simula el repositorio de outbox.
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxMessage, error) {
	args := m.Called(ctx, limit)
	msgs, _ := args.Get(0).([]sharedDomain.OutboxMessage)
	return msgs, args.Error(1)
}

func (m *MockOutboxRepository) MarkOutboxPublished(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeferOutbox(ctx context.Context, id uuid.UUID, until time.Time) error {
	args := m.Called(ctx, id, until)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockPublisher simula un bus de eventos.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, env sharedEvents.Envelope) error {
	args := m.Called(ctx, topic, env)
	return args.Error(0)
}

// MockReplyProcessor simula el pool de workers que recibe respuestas.
type MockReplyProcessor struct {
	mock.Mock
}

func (m *MockReplyProcessor) Process(ctx context.Context, env sharedEvents.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

// MockDeadLetterSink simula el almacén de mensajes envenenados.
type MockDeadLetterSink struct {
	mock.Mock
}

func (m *MockDeadLetterSink) Store(ctx context.Context, dl sharedDomain.DeadLetter) error {
	args := m.Called(ctx, dl)
	return args.Error(0)
}
