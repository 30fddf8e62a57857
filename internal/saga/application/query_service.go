package application

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedCache "github.com/davicafu/fulfillment/internal/shared/infra/platform/cache"
)

// QueryService resuelve las lecturas de pedidos (cache-aside) y sagas.
type QueryService struct {
	store   sagaDomain.Store
	cache   sharedCache.Cache
	ttlSecs int
	log     *zap.Logger
}

func NewQueryService(store sagaDomain.Store, cache sharedCache.Cache, ttlSecs int, log *zap.Logger) *QueryService {
	return &QueryService{store: store, cache: cache, ttlSecs: ttlSecs, log: log}
}

// GetOrder obtiene un pedido (primero intenta desde cache).
func (s *QueryService) GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error) {
	key := orderDomain.CacheKeyByID(id.String())

	// 1. Intentar cache
	if s.cache != nil {
		var o orderDomain.Order
		if ok, err := s.cache.Get(ctx, key, &o); err != nil {
			s.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return &o, nil
		}
	}

	// 2. Ir al store
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	// 3. Poblar cache
	sharedCache.AsyncCacheSet(s.cache, key, order, s.ttlSecs, s.log)
	return order, nil
}

// GetSaga lee siempre del store: el estado de la saga cambia a cada respuesta.
func (s *QueryService) GetSaga(ctx context.Context, id uuid.UUID) (*sagaDomain.Saga, error) {
	return s.store.GetSaga(ctx, id)
}
