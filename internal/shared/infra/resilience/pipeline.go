package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings configura un pipeline completo: timeout por intento, reintentos y breaker.
type Settings struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration

	FailureRatio float64       // ratio de fallos que abre el circuito
	MinRequests  uint32        // peticiones mínimas en la ventana antes de evaluar el ratio
	Window       time.Duration // cada cuánto se reinician los contadores en estado cerrado
	Cooldown     time.Duration // tiempo en abierto antes de pasar a semiabierto
}

// Pipeline protege las llamadas a un colaborador concreto.
type Pipeline struct {
	name    string
	timeout time.Duration
	retry   RetryPolicy
	cb      *gobreaker.CircuitBreaker
	log     *zap.Logger

	mu             sync.RWMutex
	lastTransition time.Time
}

func NewPipeline(name string, s Settings, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		name:    name,
		timeout: s.AttemptTimeout,
		retry: RetryPolicy{
			MaxAttempts: s.MaxAttempts,
			BaseDelay:   s.BaseDelay,
			MaxDelay:    s.MaxDelay,
		},
		log:            log.With(zap.String("collaborator", name)),
		lastTransition: time.Now().UTC(),
	}

	ratio := s.FailureRatio
	minRequests := s.MinRequests
	if minRequests == 0 {
		minRequests = 1
	}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.Window, // ciclo fijo: los contadores se reinician, no es ventana deslizante
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			// Abre cuando el ratio supera el umbral; igualarlo no basta.
			return float64(counts.TotalFailures)/float64(counts.Requests) > ratio
		},
		IsSuccessful: func(err error) bool {
			// Los rechazos de negocio y las cancelaciones no dicen nada de la salud del colaborador.
			return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.mu.Lock()
			p.lastTransition = time.Now().UTC()
			p.mu.Unlock()
			p.log.Warn("🔌 Cambio de estado del circuit breaker",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p
}

// Execute aplica timeout, reintentos y breaker alrededor de op.
// Devuelve nil, el error permanente de op, o un error que envuelve
// ErrExhausted, ErrTimeout o ErrCircuitOpen.
func (p *Pipeline) Execute(ctx context.Context, op func(context.Context) error) error {
	return p.retry.Do(ctx, func(ctx context.Context) error {
		return p.attempt(ctx, op)
	})
}

func (p *Pipeline) attempt(ctx context.Context, op func(context.Context) error) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.withTimeout(ctx, op)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", p.name, ErrCircuitOpen)
	}
	return err
}

func (p *Pipeline) withTimeout(ctx context.Context, op func(context.Context) error) error {
	if p.timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(attemptCtx) }()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w after %s", p.name, ErrTimeout, p.timeout)
	}
}

func (p *Pipeline) Name() string { return p.name }

// State devuelve "closed", "half-open" u "open".
func (p *Pipeline) State() string {
	return p.cb.State().String()
}

// Status es la foto del breaker que se expone a operadores.
type Status struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Requests       uint32    `json:"requests"`
	TotalFailures  uint32    `json:"totalFailures"`
	LastTransition time.Time `json:"lastTransition"`
}

func (p *Pipeline) Status() Status {
	counts := p.cb.Counts()
	p.mu.RLock()
	last := p.lastTransition
	p.mu.RUnlock()
	return Status{
		Name:           p.name,
		State:          p.State(),
		Requests:       counts.Requests,
		TotalFailures:  counts.TotalFailures,
		LastTransition: last,
	}
}
