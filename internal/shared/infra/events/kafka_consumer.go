package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler procesa un mensaje. Si devuelve error el offset no se confirma.
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, payload []byte) error
}

// messageReader es la parte de kafka.Reader que usa el adapter.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
}

const (
	fetchBackoff     = time.Second
	handleBackoff    = time.Second
	maxHandleBackoff = 30 * time.Second
)

// ConsumerAdapter lee de Kafka y confirma el offset solo tras procesar con éxito.
// Un mensaje que falla se reintenta sin leer el siguiente: el commit de Kafka es
// una posición y confirmar uno posterior daría el fallido por procesado.
type ConsumerAdapter struct {
	reader       messageReader
	handler      MessageHandler
	retryBackoff time.Duration
	log          *zap.Logger
}

func NewConsumerAdapter(reader messageReader, handler MessageHandler, log *zap.Logger) *ConsumerAdapter {
	return &ConsumerAdapter{reader: reader, handler: handler, retryBackoff: handleBackoff, log: log}
}

// NewKafkaReader crea un reader de grupo con commit manual.
func NewKafkaReader(brokers []string, topic, groupID string, log *zap.Logger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		ErrorLogger: kafka.LoggerFunc(log.With(zap.String("kafka_component", "consumer")).Sugar().Errorf),
	})
}

// Run bloquea hasta que se cancela ctx.
func (c *ConsumerAdapter) Run(ctx context.Context) error {
	cfg := c.reader.Config()
	c.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.String("topic", cfg.Topic),
		zap.Strings("brokers", cfg.Brokers),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumidor de Kafka detenido.", zap.String("topic", cfg.Topic))
				return nil
			}
			c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
			if !sleepOrDone(ctx, fetchBackoff) {
				return nil
			}
			continue
		}

		fields := []zap.Field{
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		}

		if !c.handleUntilDone(ctx, msg, fields) {
			// Sin commit: el mensaje se relee tras reiniciar o rebalancear.
			c.log.Info("Consumidor de Kafka detenido.", zap.String("topic", cfg.Topic))
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("Failed to commit offset for message", append(fields, zap.Error(err))...)
			continue
		}
		c.log.Debug("Committed message offset", fields...)
	}
}

// handleUntilDone reintenta el mismo mensaje con backoff hasta que el handler
// lo acepta. Devuelve false si ctx se cancela antes.
func (c *ConsumerAdapter) handleUntilDone(ctx context.Context, msg kafka.Message, fields []zap.Field) bool {
	delay := c.retryBackoff
	for attempt := 1; ; attempt++ {
		err := c.handler.HandleMessage(ctx, string(msg.Key), msg.Value)
		if err == nil {
			return true
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return false
		}
		c.log.Error("Error handling Kafka message, retrying",
			append(fields, zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))...)
		if !sleepOrDone(ctx, delay) {
			return false
		}
		if delay *= 2; delay > maxHandleBackoff {
			delay = maxHandleBackoff
		}
	}
}

// Start lanza Run en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	go func() { _ = c.Run(ctx) }()
}

// ChannelConsumer alimenta el mismo handler desde un canal del bus en memoria.
type ChannelConsumer struct {
	topic   string
	ch      <-chan []byte
	handler MessageHandler
	log     *zap.Logger
}

func NewChannelConsumer(topic string, ch <-chan []byte, handler MessageHandler, log *zap.Logger) *ChannelConsumer {
	return &ChannelConsumer{topic: topic, ch: ch, handler: handler, log: log}
}

func (c *ChannelConsumer) Run(ctx context.Context) error {
	c.log.Info("🎧 Consumidor en memoria iniciado", zap.String("topic", c.topic))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Consumidor en memoria detenido.", zap.String("topic", c.topic))
			return nil
		case payload, ok := <-c.ch:
			if !ok {
				return nil
			}
			if err := c.handler.HandleMessage(ctx, "", payload); err != nil {
				c.log.Error("Error procesando mensaje en memoria", zap.String("topic", c.topic), zap.Error(err))
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
