package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// TimeoutSweeper busca sagas vencidas y les inyecta un SagaTimeout por el pool.
type TimeoutSweeper struct {
	store     sagaDomain.Store
	processor ReplyProcessor
	period    time.Duration
	batchSize int
	now       func() time.Time
	log       *zap.Logger
}

func NewTimeoutSweeper(store sagaDomain.Store, processor ReplyProcessor, period time.Duration, batchSize int, log *zap.Logger) *TimeoutSweeper {
	return &TimeoutSweeper{
		store:     store,
		processor: processor,
		period:    period,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func (s *TimeoutSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep devuelve cuántas sagas vencidas se entregaron al pool.
func (s *TimeoutSweeper) Sweep(ctx context.Context) int {
	now := s.now()
	ids, err := s.store.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		s.log.Warn("⚠️ Error listando sagas vencidas", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, id := range ids {
		env, err := sharedEvents.NewEnvelope(id.String(), sharedEvents.SagaTimeout,
			sharedEvents.SagaTimeoutSignal{OrderID: id.String(), DeadlineAt: now}, now)
		if err != nil {
			s.log.Error("No se pudo construir el SagaTimeout", zap.String("order_id", id.String()), zap.Error(err))
			continue
		}
		// Un único timeout por saga: el inbox descarta los siguientes.
		env.MessageID = "timeout:" + id.String()

		if err := s.processor.Process(ctx, env); err != nil {
			s.log.Warn("⚠️ SagaTimeout no aplicado, se reintentará",
				zap.String("order_id", id.String()), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
