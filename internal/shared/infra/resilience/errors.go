package resilience

import (
	"context"
	"errors"
)

var (
	// ErrExhausted envuelve el último error cuando se agotan los reintentos.
	ErrExhausted = errors.New("resilience: retries exhausted")
	// ErrTimeout marca un intento que superó su tiempo máximo.
	ErrTimeout = errors.New("resilience: attempt timed out")
	// ErrCircuitOpen se devuelve sin llamar al colaborador.
	ErrCircuitOpen = errors.New("resilience: circuit open")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marca un error como no reintentable (rechazo de negocio o validación).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// IsTransient decide si un error merece otro intento.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case IsPermanent(err):
		return false
	case errors.Is(err, ErrCircuitOpen):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
