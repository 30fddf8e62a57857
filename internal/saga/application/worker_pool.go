package application

import (
	"context"
	"errors"
	"hash/fnv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// ReplyHandler es lo que ejecuta cada worker.
type ReplyHandler interface {
	HandleReply(ctx context.Context, env sharedEvents.Envelope) error
}

type job struct {
	ctx  context.Context
	env  sharedEvents.Envelope
	done chan error
}

// WorkerPool reparte los mensajes por correlation id: una saga siempre cae en
// el mismo worker y sus mensajes se procesan en orden de llegada.
type WorkerPool struct {
	handler ReplyHandler
	queues  []chan job
	stopped chan struct{}
	log     *zap.Logger
}

var _ ReplyProcessor = (*WorkerPool)(nil)

func NewWorkerPool(handler ReplyHandler, workers, queueSize int, log *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	queues := make([]chan job, workers)
	for i := range queues {
		queues[i] = make(chan job, queueSize)
	}
	return &WorkerPool{handler: handler, queues: queues, stopped: make(chan struct{}), log: log}
}

// Run arranca los workers y bloquea hasta que se cancela ctx.
func (p *WorkerPool) Run(ctx context.Context) error {
	defer close(p.stopped)

	g, ctx := errgroup.WithContext(ctx)
	for i, q := range p.queues {
		g.Go(func() error {
			p.work(ctx, i, q)
			return nil
		})
	}
	p.log.Info("👷 Pool de workers iniciado", zap.Int("workers", len(p.queues)))
	err := g.Wait()
	p.log.Info("🛑 Pool de workers detenido")
	return err
}

func (p *WorkerPool) work(ctx context.Context, id int, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q:
			j.done <- p.handle(j, id)
		}
	}
}

func (p *WorkerPool) handle(j job, worker int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("💥 Panic procesando mensaje",
				zap.Int("worker", worker),
				zap.String("message_id", j.env.MessageID),
				zap.Any("panic", r),
			)
			err = errors.New("panic while handling message")
		}
	}()
	return p.handler.HandleReply(j.ctx, j.env)
}

// Process encola el mensaje en su partición y espera el resultado.
func (p *WorkerPool) Process(ctx context.Context, env sharedEvents.Envelope) error {
	j := job{ctx: ctx, env: env, done: make(chan error, 1)}
	select {
	case p.queues[p.partition(env.CorrelationID)] <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPoolStopped
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPoolStopped
	}
}

func (p *WorkerPool) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}
