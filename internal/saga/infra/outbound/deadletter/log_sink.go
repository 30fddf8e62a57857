package deadletter

import (
	"context"
	"sync"

	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
)

const defaultKeep = 100

// LogSink se usa cuando no hay MongoDB: registra el mensaje y guarda los últimos en memoria.
type LogSink struct {
	mu     sync.Mutex
	recent []sharedDomain.DeadLetter
	keep   int
	log    *zap.Logger
}

func NewLogSink(keep int, log *zap.Logger) *LogSink {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &LogSink{keep: keep, log: log}
}

func (s *LogSink) Store(ctx context.Context, dl sharedDomain.DeadLetter) error {
	s.log.Error("☠️ Dead letter",
		zap.String("dead_letter_id", dl.ID.String()),
		zap.String("key", dl.Key),
		zap.String("reason", dl.Reason),
		zap.ByteString("payload", dl.Payload),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, dl)
	if over := len(s.recent) - s.keep; over > 0 {
		s.recent = s.recent[over:]
	}
	return nil
}

// Recent devuelve los últimos mensajes apartados, del más nuevo al más viejo.
func (s *LogSink) Recent(ctx context.Context, limit int) ([]sharedDomain.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]sharedDomain.DeadLetter, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

var _ sharedDomain.DeadLetterSink = (*LogSink)(nil)
