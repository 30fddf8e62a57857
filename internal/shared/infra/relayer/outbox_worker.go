package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedBus "github.com/davicafu/fulfillment/internal/shared/infra/platform/bus"
)

var errUnknownEventType = errors.New("unknown event type")

// Worker publica los mensajes pendientes del outbox respetando el orden por agregado.
type Worker struct {
	repo          sharedDomain.OutboxRepository
	publisher     sharedBus.EventBus
	eventRegistry map[string]sharedEvents.EventMetadata
	interval      time.Duration
	batchSize     int
	concurrency   int
	retention     time.Duration
	maxBackoff    time.Duration
	now           func() time.Time
	log           *zap.Logger
}

type Option func(*Worker)

// WithConcurrency limita cuántos agregados se publican en paralelo.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithMaxBackoff acota el aplazamiento de un mensaje que no se puede publicar.
func WithMaxBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.maxBackoff = d
		}
	}
}

// WithRetention activa la purga de mensajes publicados más antiguos que d.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) { w.retention = d }
}

func NewOutboxWorker(
	repo sharedDomain.OutboxRepository,
	publisher sharedBus.EventBus,
	registry map[string]sharedEvents.EventMetadata,
	interval time.Duration,
	batchSize int,
	log *zap.Logger,
	opts ...Option,
) *Worker {
	w := &Worker{
		repo:          repo,
		publisher:     publisher,
		eventRegistry: registry,
		interval:      interval,
		batchSize:     batchSize,
		concurrency:   1,
		maxBackoff:    time.Minute,
		now:           time.Now,
		log:           log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start inicia el bucle de polling. Bloquea hasta que se cancela ctx.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var cleanup <-chan time.Time
	if w.retention > 0 {
		cleanupTicker := time.NewTicker(cleanupEvery(w.retention))
		defer cleanupTicker.Stop()
		cleanup = cleanupTicker.C
	}

	w.log.Info("🚀 Outbox relay iniciado",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize),
		zap.Int("concurrency", w.concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 Outbox relay detenido.")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		case <-cleanup:
			if _, err := w.Cleanup(ctx); err != nil {
				w.log.Warn("⚠️ Error purgando outbox", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publica un lote y devuelve cuántos mensajes quedaron marcados.
// Los agregados se publican en paralelo; dentro de un agregado el orden es estricto
// y el primer fallo aplaza el agregado entero, dejando sitio en el lote a los demás.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	msgs, err := w.repo.FetchPendingOutbox(ctx, w.batchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener mensajes pendientes", zap.Error(err))
		return 0
	}
	if len(msgs) == 0 {
		return 0
	}
	w.log.Debug(fmt.Sprintf("📬 %d mensajes pendientes en outbox", len(msgs)))

	var published atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, group := range groupByAggregate(msgs) {
		g.Go(func() error {
			published.Add(int64(w.publishGroup(ctx, group)))
			return nil
		})
	}
	_ = g.Wait()

	return int(published.Load())
}

// Cleanup borra los mensajes publicados fuera del periodo de retención.
func (w *Worker) Cleanup(ctx context.Context) (int64, error) {
	if w.retention <= 0 {
		return 0, nil
	}
	deleted, err := w.repo.DeletePublishedBefore(ctx, time.Now().UTC().Add(-w.retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.log.Info("🧹 Outbox purgado", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (w *Worker) publishGroup(ctx context.Context, group []sharedDomain.OutboxMessage) int {
	for i, msg := range group {
		if err := w.publishAndMark(ctx, msg); err != nil {
			w.deferMessage(ctx, msg)
			if remaining := len(group) - i - 1; remaining > 0 {
				w.log.Info("⏸️ Resto del agregado queda pendiente para conservar el orden",
					zap.String("aggregate_id", msg.AggregateID),
					zap.Int("remaining", remaining),
				)
			}
			return i
		}
	}
	return len(group)
}

func (w *Worker) publishAndMark(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	logFields := []zap.Field{
		zap.String("message_id", msg.ID.String()),
		zap.String("event_type", msg.EventType),
		zap.String("aggregate_id", msg.AggregateID),
	}

	// 1. Validar contra el registro antes de publicar
	metadata, ok := w.eventRegistry[msg.EventType]
	if !ok {
		w.log.Error("Tipo de mensaje desconocido en registro", logFields...)
		return errUnknownEventType
	}

	var env sharedEvents.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		w.log.Error("Sobre ilegible en outbox", append(logFields, zap.Error(err))...)
		return err
	}
	payload := reflect.New(metadata.Type).Interface()
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		w.log.Error("Payload no corresponde al tipo registrado", append(logFields, zap.Error(err))...)
		return err
	}

	// 2. Publicar; si falla queda pendiente para el siguiente ciclo
	if err := w.publisher.Publish(ctx, metadata.Topic, env); err != nil {
		w.log.Warn("⚠️ No se pudo publicar mensaje", append(logFields, zap.Error(err))...)
		return err
	}

	// 3. Marcar como publicado
	if err := w.repo.MarkOutboxPublished(ctx, msg.ID); err != nil {
		w.log.Warn("⚠️ No se pudo marcar mensaje como publicado", append(logFields, zap.Error(err))...)
		return err
	}
	w.log.Debug("✅ Mensaje publicado y marcado", logFields...)
	return nil
}

func (w *Worker) deferMessage(ctx context.Context, msg sharedDomain.OutboxMessage) {
	delay := w.backoff(msg.Attempts)
	if err := w.repo.DeferOutbox(ctx, msg.ID, w.now().Add(delay)); err != nil {
		w.log.Warn("⚠️ No se pudo aplazar mensaje", zap.String("message_id", msg.ID.String()), zap.Error(err))
		return
	}
	w.log.Info("⏳ Agregado aplazado",
		zap.String("aggregate_id", msg.AggregateID),
		zap.String("event_type", msg.EventType),
		zap.Int("attempts", msg.Attempts+1),
		zap.Duration("retry_in", delay),
	)
}

// backoff duplica el intervalo por cada intento fallido previo, hasta maxBackoff.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.interval
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempts && d < w.maxBackoff; i++ {
		d *= 2
	}
	if d > w.maxBackoff {
		d = w.maxBackoff
	}
	return d
}

// groupByAggregate agrupa conservando el orden de aparición y el orden interno.
func groupByAggregate(msgs []sharedDomain.OutboxMessage) [][]sharedDomain.OutboxMessage {
	index := make(map[string]int)
	var groups [][]sharedDomain.OutboxMessage
	for _, m := range msgs {
		i, ok := index[m.AggregateID]
		if !ok {
			i = len(groups)
			index[m.AggregateID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func cleanupEvery(retention time.Duration) time.Duration {
	every := retention / 10
	if every < time.Minute {
		return time.Minute
	}
	return every
}
