package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedBus "github.com/davicafu/fulfillment/internal/shared/infra/platform/bus"
	"github.com/davicafu/fulfillment/internal/shared/infra/resilience"
)

// ReplyProcessor recibe respuestas para entregarlas al orquestador.
type ReplyProcessor interface {
	Process(ctx context.Context, env sharedEvents.Envelope) error
}

// CommandDispatcher es el EventBus del relay: los comandos hacia colaboradores
// pasan por el pipeline de resiliencia de su colaborador; el resto va directo.
type CommandDispatcher struct {
	next          sharedBus.EventBus
	pipelines     *resilience.Registry
	collaborators map[string]string // topic → colaborador
	replies       ReplyProcessor
	now           func() time.Time
	log           *zap.Logger
}

var _ sharedBus.EventBus = (*CommandDispatcher)(nil)

func NewCommandDispatcher(
	next sharedBus.EventBus,
	pipelines *resilience.Registry,
	collaborators map[string]string,
	replies ReplyProcessor,
	log *zap.Logger,
) *CommandDispatcher {
	return &CommandDispatcher{
		next:          next,
		pipelines:     pipelines,
		collaborators: collaborators,
		replies:       replies,
		now:           func() time.Time { return time.Now().UTC() },
		log:           log,
	}
}

// Publish devuelve nil cuando el mensaje puede marcarse como publicado.
// Un error deja la intención pendiente para el siguiente ciclo del relay.
func (d *CommandDispatcher) Publish(ctx context.Context, topic string, env sharedEvents.Envelope) error {
	name, ok := d.collaborators[topic]
	if !ok {
		return d.next.Publish(ctx, topic, env)
	}
	pipeline, ok := d.pipelines.Get(name)
	if !ok {
		return d.next.Publish(ctx, topic, env)
	}

	err := pipeline.Execute(ctx, func(ctx context.Context) error {
		return d.next.Publish(ctx, topic, env)
	})
	if err == nil || !resilience.IsPermanent(err) {
		return err
	}

	fields := []zap.Field{
		zap.String("collaborator", name),
		zap.String("order_id", env.CorrelationID),
		zap.String("message_id", env.MessageID),
		zap.String("event_type", env.Type),
		zap.Error(err),
	}

	// Rechazo definitivo de un comando de avance: la saga compensa como ante un fallo de negocio.
	reply, ok := rejectionReply(env, err.Error(), d.now())
	if !ok {
		d.log.Error("🚨 Compensación rechazada por el colaborador, requiere revisión",
			append(fields, zap.Bool("alert", true))...)
		return nil
	}
	d.log.Warn("⛔ Comando rechazado, se sintetiza respuesta negativa", fields...)
	return d.replies.Process(ctx, reply)
}

// rejectionReply construye la respuesta negativa equivalente a un comando de avance.
// El MessageID deriva del comando para que un reenvío no duplique el efecto.
func rejectionReply(cmd sharedEvents.Envelope, reason string, now time.Time) (sharedEvents.Envelope, bool) {
	replyType, ok := sharedEvents.FailureReplyFor(cmd.Type)
	if !ok {
		return sharedEvents.Envelope{}, false
	}
	env, err := sharedEvents.NewEnvelope(cmd.CorrelationID, replyType,
		sharedEvents.FailureReply{OrderID: cmd.CorrelationID, Reason: reason}, now)
	if err != nil {
		return sharedEvents.Envelope{}, false
	}
	env.MessageID = "rejected:" + cmd.MessageID
	return env, true
}
