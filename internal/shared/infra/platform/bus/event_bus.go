package bus

import (
	"context"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

type Keyer interface {
	PartitionKey() string
}

// EventBus publica un sobre en un topic. El formato en el cable lo decide cada adapter.
type EventBus interface {
	Publish(ctx context.Context, topic string, env sharedEvents.Envelope) error
}

// Compile-time: el sobre se particiona por correlation id.
var _ Keyer = sharedEvents.Envelope{}
