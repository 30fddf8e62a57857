package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedBus "github.com/davicafu/fulfillment/internal/shared/infra/platform/bus"
)

var ErrBusClosed = errors.New("event bus closed")

// InMemoryEventBus reparte sobres serializados por topic dentro del proceso.
// La entrega bloquea hasta que el suscriptor tiene hueco: no se pierden mensajes.
type InMemoryEventBus struct {
	subscribers map[string][]chan []byte
	mu          sync.RWMutex
	stop        chan struct{}
	once        sync.Once
}

// Verifica en tiempo de compilación que cumple la interfaz
var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]chan []byte),
		stop:        make(chan struct{}),
	}
}

func (b *InMemoryEventBus) Publish(ctx context.Context, topic string, env sharedEvents.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.RLock()
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- payload:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stop:
			return ErrBusClosed
		}
	}
	return nil
}

// Subscribe devuelve un canal con los sobres JSON publicados en topic.
func (b *InMemoryEventBus) Subscribe(topic string, bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Close desbloquea a los publicadores pendientes. Los canales no se cierran.
func (b *InMemoryEventBus) Close() {
	b.once.Do(func() { close(b.stop) })
}
