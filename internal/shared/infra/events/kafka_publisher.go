package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	sharedBus "github.com/davicafu/fulfillment/internal/shared/infra/platform/bus"
	"github.com/davicafu/fulfillment/internal/shared/infra/resilience"
)

// messageWriter es la parte de kafka.Writer que usa el publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher escribe cada sobre en el topic indicado, con el correlation id como clave.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

// Verificación estática
var _ sharedBus.EventBus = (*KafkaPublisher)(nil)

func NewKafkaPublisher(writer messageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log}
}

// NewKafkaWriter crea un writer sin topic fijo: el topic viaja en cada mensaje.
func NewKafkaWriter(brokers []string, log *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		ErrorLogger:  kafka.LoggerFunc(log.Sugar().Errorf),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, env sharedEvents.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return resilience.Permanent(err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(env.PartitionKey()),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Error publishing to Kafka",
			zap.String("topic", topic),
			zap.String("type", env.Type),
			zap.Error(err),
		)
		return classifyWriteError(err)
	}

	p.log.Debug("Mensaje publicado en Kafka",
		zap.String("topic", topic),
		zap.String("type", env.Type),
		zap.String("correlation_id", env.CorrelationID),
	)
	return nil
}

// classifyWriteError marca como permanentes los errores del broker que no son temporales.
func classifyWriteError(err error) error {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				err = e
				break
			}
		}
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) && !kerr.Temporary() {
		return resilience.Permanent(err)
	}
	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		return resilience.Permanent(err)
	}
	return err
}
