package collaborators

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedBus "github.com/davicafu/fulfillment/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/fulfillment/internal/shared/infra/utils"
)

// Subscriber es la parte del bus en memoria que permite escuchar un topic.
type Subscriber interface {
	Subscribe(topic string, bufferSize int) <-chan []byte
}

// Behavior configura las respuestas negativas del simulador.
type Behavior struct {
	// OutOfStock lista productos sin existencias.
	OutOfStock []string
	// PaymentLimit rechaza pagos por encima del importe. Cero = sin límite.
	PaymentLimit decimal.Decimal
	// FailShipments hace fallar todas las creaciones de envío.
	FailShipments bool
	// Latency se espera antes de responder.
	Latency time.Duration
}

// Simulator hace de inventario, pagos y envíos cuando no hay Kafka.
// Responde una sola vez por comando: un comando repetido recibe la misma respuesta.
type Simulator struct {
	bus        sharedBus.EventBus
	sub        Subscriber
	topics     sharedEvents.Topics
	behavior   Behavior
	outOfStock map[string]struct{}

	mu      sync.Mutex
	replies map[string]sharedEvents.Envelope

	now func() time.Time
	log *zap.Logger
}

func NewSimulator(bus sharedBus.EventBus, sub Subscriber, topics sharedEvents.Topics, behavior Behavior, log *zap.Logger) *Simulator {
	oos := make(map[string]struct{}, len(behavior.OutOfStock))
	for _, p := range behavior.OutOfStock {
		oos[p] = struct{}{}
	}
	return &Simulator{
		bus:        bus,
		sub:        sub,
		topics:     topics,
		behavior:   behavior,
		outOfStock: oos,
		replies:    make(map[string]sharedEvents.Envelope),
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Run se suscribe a los tres topics de comandos y bloquea hasta que se cancela ctx.
func (s *Simulator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range []string{s.topics.Inventory, s.topics.Payment, s.topics.Shipping} {
		ch := s.sub.Subscribe(topic, 64)
		g.Go(func() error {
			s.listen(ctx, topic, ch)
			return nil
		})
	}
	s.log.Info("🧪 Colaboradores simulados escuchando", zap.String("replies_topic", s.topics.Replies))
	return g.Wait()
}

func (s *Simulator) listen(ctx context.Context, topic string, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ch:
			env, err := sharedEvents.DecodeEnvelope(data)
			if err != nil {
				s.log.Warn("Comando ilegible descartado", zap.String("topic", topic), zap.Error(err))
				continue
			}
			if s.behavior.Latency > 0 {
				select {
				case <-time.After(s.behavior.Latency):
				case <-ctx.Done():
					return
				}
			}
			reply, ok, err := s.Handle(env)
			if err != nil {
				s.log.Warn("Comando rechazado por el simulador",
					zap.String("type", env.Type), zap.String("message_id", env.MessageID), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if err := s.bus.Publish(ctx, s.topics.Replies, reply); err != nil {
				s.log.Error("No se pudo publicar la respuesta simulada", zap.String("type", reply.Type), zap.Error(err))
			}
		}
	}
}

// Handle calcula la respuesta a un comando. ok es false para las compensaciones,
// que no tienen respuesta.
func (s *Simulator) Handle(cmd sharedEvents.Envelope) (sharedEvents.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, seen := s.replies[cmd.MessageID]; seen {
		return prev, prev.Type != "", nil
	}

	replyType, payload, err := s.decide(cmd)
	if err != nil {
		return sharedEvents.Envelope{}, false, err
	}
	if replyType == "" {
		s.replies[cmd.MessageID] = sharedEvents.Envelope{}
		return sharedEvents.Envelope{}, false, nil
	}

	reply, err := sharedEvents.NewEnvelope(cmd.CorrelationID, replyType, payload, s.now())
	if err != nil {
		return sharedEvents.Envelope{}, false, err
	}
	reply.MessageID = "reply:" + cmd.MessageID
	s.replies[cmd.MessageID] = reply
	return reply, true, nil
}

func (s *Simulator) decide(cmd sharedEvents.Envelope) (string, interface{}, error) {
	orderID := cmd.CorrelationID
	short := orderID[:min(8, len(orderID))]

	switch cmd.Type {
	case sharedEvents.ReserveStock:
		p, err := sharedUtils.DecodeAs[sharedEvents.ReserveStockCommand](cmd.Payload)
		if err != nil {
			return "", nil, err
		}
		var missing []string
		for _, it := range p.Items {
			if _, ok := s.outOfStock[it.ProductID]; ok {
				missing = append(missing, it.ProductID)
			}
		}
		if len(missing) > 0 {
			return sharedEvents.StockReservationFailed, sharedEvents.StockReservationFailedReply{
				OrderID:          orderID,
				Reason:           "out of stock: " + strings.Join(missing, ","),
				UnavailableItems: missing,
			}, nil
		}
		return sharedEvents.StockReserved, sharedEvents.StockReservedReply{OrderID: orderID, ReservationID: "res-" + short}, nil

	case sharedEvents.ProcessPayment:
		p, err := sharedUtils.DecodeAs[sharedEvents.ProcessPaymentCommand](cmd.Payload)
		if err != nil {
			return "", nil, err
		}
		if s.behavior.PaymentLimit.IsPositive() && p.Amount.GreaterThan(s.behavior.PaymentLimit) {
			return sharedEvents.PaymentFailed, sharedEvents.PaymentFailedReply{
				OrderID: orderID,
				Reason:  fmt.Sprintf("card declined: amount %s over limit", p.Amount.StringFixed(2)),
			}, nil
		}
		return sharedEvents.PaymentProcessed, sharedEvents.PaymentProcessedReply{OrderID: orderID, TransactionID: "tx-" + short}, nil

	case sharedEvents.CreateShipment:
		if s.behavior.FailShipments {
			return sharedEvents.ShipmentCreationFailed, sharedEvents.ShipmentCreationFailedReply{OrderID: orderID, Reason: "carrier unavailable"}, nil
		}
		return sharedEvents.ShipmentCreated, sharedEvents.ShipmentCreatedReply{OrderID: orderID, TrackingRef: "TRK-" + strings.ToUpper(short)}, nil

	case sharedEvents.ReleaseStock, sharedEvents.RefundPayment:
		s.log.Info("↩️ Compensación aplicada", zap.String("type", cmd.Type), zap.String("order_id", orderID))
		return "", nil, nil

	default:
		return "", nil, fmt.Errorf("unsupported command %q", cmd.Type)
	}
}
