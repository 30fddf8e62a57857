package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedCache "github.com/davicafu/fulfillment/internal/shared/infra/platform/cache"
)

const defaultConflictRetries = 3

// OrchestratorConfig agrupa los parámetros de negocio del orquestador.
type OrchestratorConfig struct {
	SagaTimeout     time.Duration
	MinOrderTotal   decimal.Decimal
	ConflictRetries int
}

// Orchestrator crea sagas y aplica las respuestas de los colaboradores.
// Todo cambio de estado y sus comandos salen en una única transacción.
type Orchestrator struct {
	store    sagaDomain.Store
	recorder sagaDomain.TransitionRecorder
	cache    sharedCache.Cache
	cfg      OrchestratorConfig
	now      func() time.Time
	log      *zap.Logger
}

func NewOrchestrator(
	store sagaDomain.Store,
	recorder sagaDomain.TransitionRecorder,
	cache sharedCache.Cache,
	cfg OrchestratorConfig,
	log *zap.Logger,
) *Orchestrator {
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = defaultConflictRetries
	}
	return &Orchestrator{
		store:    store,
		recorder: recorder,
		cache:    cache,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// StartFulfillment persiste el pedido, su saga y el primer comando en la misma transacción.
func (o *Orchestrator) StartFulfillment(ctx context.Context, customerID string, lines []orderDomain.Line) (*orderDomain.Order, error) {
	order, err := orderDomain.Create(customerID, lines, o.cfg.MinOrderTotal)
	if err != nil {
		return nil, err
	}

	now := o.now()
	saga, cmds := sagaDomain.New(order.ID, now, o.cfg.SagaTimeout)

	err = o.store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.CreateSaga(ctx, saga); err != nil {
			return err
		}
		msgs, err := buildCommands(order, cmds, now)
		if err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, msgs...)
	})
	if err != nil {
		return nil, fmt.Errorf("start fulfillment: %w", err)
	}

	o.log.Info("🛒 Saga iniciada",
		zap.String("order_id", order.ID.String()),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Time("deadline", saga.DeadlineAt),
	)
	o.recordAsync([]sagaDomain.TransitionRecord{{
		CorrelationID: saga.CorrelationID,
		To:            saga.State,
		OccurredAt:    now,
	}})
	sharedCache.AsyncCacheSet(o.cache, orderDomain.CacheKeyByID(order.ID.String()), order, 0, o.log)
	return order, nil
}

// HandleReply aplica una respuesta (o un SagaTimeout) a su saga.
// Duplicados y respuestas fuera de lugar no son error: se registran y se descartan.
func (o *Orchestrator) HandleReply(ctx context.Context, env sharedEvents.Envelope) error {
	correlationID, reply, err := decodeReply(env)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err = o.applyReply(ctx, correlationID, reply)
		if !errors.Is(err, sagaDomain.ErrVersionConflict) || attempt >= o.cfg.ConflictRetries {
			return err
		}
		o.log.Warn("⚔️ Conflicto de versión, reintentando",
			zap.String("order_id", correlationID.String()),
			zap.String("message_id", reply.MessageID),
			zap.Int("attempt", attempt),
		)
	}
}

type applyResult struct {
	duplicate  bool
	saga       *sagaDomain.Saga
	outcome    sagaDomain.Outcome
	superseded int64
}

func (o *Orchestrator) applyReply(ctx context.Context, id uuid.UUID, reply sagaDomain.Reply) error {
	var res applyResult
	now := o.now()

	err := o.store.WithinTx(ctx, func(ctx context.Context, tx sagaDomain.Tx) error {
		res = applyResult{}

		// 1. Inbox: mismo id, mismo efecto (ninguno)
		fresh, err := tx.TryMarkProcessed(ctx, reply.MessageID)
		if err != nil {
			return err
		}
		if !fresh {
			res.duplicate = true
			return nil
		}

		// 2. Transición
		saga, err := tx.GetSagaForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res.saga = saga
		res.outcome = saga.Apply(reply, now)
		if res.outcome.Ignored {
			return nil
		}

		// 3. Una saga fallida retira sus comandos de avance aún sin publicar,
		// antes de encolar las compensaciones
		if saga.State == sagaDomain.StateFailed {
			res.superseded, err = tx.SupersedePending(ctx, id.String(), forwardCommandTypes()...)
			if err != nil {
				return err
			}
		}

		// 4. Efecto sobre el pedido y comandos, todo al outbox
		order, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := applyOrderAction(order, res.outcome.Order, reply, saga); err != nil {
			return err
		}
		if res.outcome.Order != sagaDomain.OrderNone {
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return err
			}
		}
		msgs, err := buildCommands(order, res.outcome.Commands, now)
		if err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, msgs...); err != nil {
			return err
		}
		return tx.UpdateSaga(ctx, saga)
	})
	if err != nil {
		return err
	}

	o.afterCommit(id, reply, res, now)
	return nil
}

// afterCommit sólo hace trabajo no transaccional: logs, analítica y caché.
func (o *Orchestrator) afterCommit(id uuid.UUID, reply sagaDomain.Reply, res applyResult, now time.Time) {
	fields := []zap.Field{
		zap.String("order_id", id.String()),
		zap.String("message_id", reply.MessageID),
		zap.String("trigger", string(reply.Trigger)),
	}

	switch {
	case res.duplicate:
		o.log.Info("🔁 Respuesta duplicada descartada", fields...)
		return
	case res.outcome.Ignored:
		o.log.Warn("🔀 Respuesta fuera de orden ignorada",
			append(fields, zap.String("saga_state", string(res.saga.State)))...)
		return
	}

	fields = append(fields,
		zap.String("from", string(res.outcome.From)),
		zap.String("saga_state", string(res.saga.State)),
		zap.Int("commands", len(res.outcome.Commands)),
	)
	if res.superseded > 0 {
		o.log.Warn("🗑️ Comandos pendientes retirados del outbox por saga fallida",
			append(fields, zap.Int64("superseded", res.superseded))...)
	}
	if res.outcome.Alert {
		o.log.Error("🚨 Saga vencida: compensada y cancelada, requiere revisión",
			append(fields, zap.Bool("alert", true), zap.Int("compensations", len(res.outcome.Commands)))...)
	} else {
		o.log.Info("➡️ Saga avanzada", fields...)
	}

	o.recordAsync(transitionRecords(id, reply, res.outcome, now))
	if res.outcome.Order != sagaDomain.OrderNone {
		sharedCache.AsyncCacheDelete(o.cache, orderDomain.CacheKeyByID(id.String()), o.log)
	}
}

func (o *Orchestrator) recordAsync(records []sagaDomain.TransitionRecord) {
	if o.recorder == nil || len(records) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.recorder.LogBatch(ctx, records); err != nil {
			o.log.Warn("⚠️ No se pudo registrar el histórico de la saga", zap.Error(err))
		}
	}()
}

func applyOrderAction(order *orderDomain.Order, action sagaDomain.OrderAction, reply sagaDomain.Reply, saga *sagaDomain.Saga) error {
	switch action {
	case sagaDomain.OrderConfirm:
		return order.Confirm()
	case sagaDomain.OrderShip:
		return order.Ship(reply.Reference)
	case sagaDomain.OrderCancel:
		return order.Cancel(saga.FailureReason)
	default:
		return nil
	}
}

// transitionRecords despliega el camino recorrido en filas from→to.
func transitionRecords(id uuid.UUID, reply sagaDomain.Reply, out sagaDomain.Outcome, now time.Time) []sagaDomain.TransitionRecord {
	records := make([]sagaDomain.TransitionRecord, 0, len(out.Path))
	from := out.From
	for _, to := range out.Path {
		records = append(records, sagaDomain.TransitionRecord{
			CorrelationID: id,
			From:          from,
			To:            to,
			Trigger:       reply.Trigger,
			MessageID:     reply.MessageID,
			Reason:        reply.Reason,
			OccurredAt:    now,
		})
		from = to
	}
	return records
}
