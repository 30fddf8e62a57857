package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	"github.com/davicafu/fulfillment/internal/shared/infra/resilience"
)

// ReplyProcessor es el pool de workers que aplica las respuestas.
type ReplyProcessor interface {
	Process(ctx context.Context, env sharedEvents.Envelope) error
}

// ReplyConsumer recibe las respuestas de los colaboradores desde el transporte.
// Nunca devuelve error por un mensaje malo: lo aparta al dead letter y sigue.
type ReplyConsumer struct {
	processor ReplyProcessor
	sink      sharedDomain.DeadLetterSink
	retry     resilience.RetryPolicy
	now       func() time.Time
	log       *zap.Logger
}

func NewReplyConsumer(processor ReplyProcessor, sink sharedDomain.DeadLetterSink, retry resilience.RetryPolicy, log *zap.Logger) *ReplyConsumer {
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = retryable
	}
	return &ReplyConsumer{
		processor: processor,
		sink:      sink,
		retry:     retry,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// HandleMessage devuelve error sólo cuando el mensaje debe releerse (cancelación
// o dead letter caído); en ese caso el adapter no confirma el offset.
func (c *ReplyConsumer) HandleMessage(ctx context.Context, key string, payload []byte) error {
	env, err := sharedEvents.DecodeEnvelope(payload)
	if err != nil {
		return c.deadLetter(ctx, key, payload, err)
	}

	err = c.retry.Do(ctx, func(ctx context.Context) error {
		return c.processor.Process(ctx, env)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	c.log.Warn("⚠️ Respuesta no procesable",
		zap.String("message_id", env.MessageID),
		zap.String("order_id", env.CorrelationID),
		zap.String("event_type", env.Type),
		zap.Error(err),
	)
	return c.deadLetter(ctx, key, payload, err)
}

func (c *ReplyConsumer) deadLetter(ctx context.Context, key string, payload []byte, reason error) error {
	dl := sharedDomain.DeadLetter{
		ID:         uuid.New(),
		Key:        key,
		Payload:    payload,
		Reason:     reason.Error(),
		ReceivedAt: c.now(),
	}
	if err := c.sink.Store(ctx, dl); err != nil {
		c.log.Error("❌ No se pudo guardar en dead letter", zap.String("key", key), zap.Error(err))
		return err
	}
	c.log.Warn("☠️ Mensaje enviado a dead letter", zap.String("key", key), zap.String("reason", dl.Reason))
	return nil
}

// retryable excluye los errores que no se arreglan reintentando.
func retryable(err error) bool {
	switch {
	case errors.Is(err, sagaDomain.ErrPoisonMessage),
		errors.Is(err, sagaDomain.ErrUnknownTrigger),
		errors.Is(err, sagaDomain.ErrSagaNotFound):
		return false
	default:
		return resilience.IsTransient(err)
	}
}
