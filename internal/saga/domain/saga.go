package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSagaNotFound    = errors.New("saga not found")
	ErrVersionConflict = errors.New("saga version conflict")
	ErrUnknownTrigger  = errors.New("unknown saga trigger")
	ErrPoisonMessage   = errors.New("poison message")
)

type State string

const (
	StateStarted          State = "started"
	StateStockReserved    State = "stock_reserved"
	StatePaymentProcessed State = "payment_processed"
	StateShipmentCreated  State = "shipment_created"
	StateCompleted        State = "completed"
	StateCompensating     State = "compensating"
	StateFailed           State = "failed"
)

// Terminal: completed y failed no admiten más transiciones.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Trigger string

const (
	TriggerStockReserved          Trigger = "StockReserved"
	TriggerStockReservationFailed Trigger = "StockReservationFailed"
	TriggerPaymentProcessed       Trigger = "PaymentProcessed"
	TriggerPaymentFailed          Trigger = "PaymentFailed"
	TriggerShipmentCreated        Trigger = "ShipmentCreated"
	TriggerShipmentCreationFailed Trigger = "ShipmentCreationFailed"
	TriggerSagaTimeout            Trigger = "SagaTimeout"
)

type StepName string

const (
	StepReserveStock   StepName = "reserve_stock"
	StepProcessPayment StepName = "process_payment"
	StepCreateShipment StepName = "create_shipment"
)

type CommandType string

const (
	CommandReserveStock   CommandType = "ReserveStock"
	CommandProcessPayment CommandType = "ProcessPayment"
	CommandCreateShipment CommandType = "CreateShipment"
	CommandReleaseStock   CommandType = "ReleaseStock"
	CommandRefundPayment  CommandType = "RefundPayment"
)

// CompletedStep es una entrada del log de pasos; Reference es el id devuelto
// por el colaborador (reserva, transacción, tracking).
type CompletedStep struct {
	Name        StepName  `json:"name"`
	Reference   string    `json:"reference"`
	CompletedAt time.Time `json:"completedAt"`
}

// Command es una intención de llamada a un colaborador.
type Command struct {
	Type      CommandType
	Reference string // sólo para compensaciones
}

// Reply es la respuesta de un colaborador ya decodificada.
type Reply struct {
	Trigger   Trigger
	MessageID string
	Reference string
	Reason    string
}

// Outcome es el resultado de aplicar una respuesta a la saga.
type Outcome struct {
	Ignored  bool
	From     State
	Path     []State // estados atravesados, el último es el persistido
	Commands []Command
	Order    OrderAction
	Alert    bool
}

// Saga es la instancia persistida que coordina un pedido.
type Saga struct {
	CorrelationID uuid.UUID       `json:"correlationId"`
	State         State           `json:"state"`
	Steps         []CompletedStep `json:"steps"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	DeadlineAt    time.Time       `json:"deadlineAt"`
	Version       int64           `json:"version"`
}

// New crea la saga en estado started y devuelve el primer comando a emitir.
func New(orderID uuid.UUID, now time.Time, timeout time.Duration) (*Saga, []Command) {
	now = now.UTC()
	s := &Saga{
		CorrelationID: orderID,
		State:         StateStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
		DeadlineAt:    now.Add(timeout),
	}
	return s, []Command{{Type: CommandReserveStock}}
}

// Apply ejecuta la transición correspondiente a la respuesta.
// Una respuesta fuera de lugar, o cualquier respuesta sobre una saga terminada,
// devuelve Outcome.Ignored sin tocar el estado.
func (s *Saga) Apply(r Reply, now time.Time) Outcome {
	out := Outcome{From: s.State}
	if s.State.Terminal() {
		out.Ignored = true
		return out
	}
	t, ok := Lookup(s.State, r.Trigger)
	if !ok {
		out.Ignored = true
		return out
	}

	now = now.UTC()
	if t.Record != "" {
		s.Steps = append(s.Steps, CompletedStep{Name: t.Record, Reference: r.Reference, CompletedAt: now})
	}
	if t.Issue != "" {
		out.Commands = append(out.Commands, Command{Type: t.Issue})
	}
	if t.Compensate {
		out.Commands = append(out.Commands, s.Compensations()...)
	}
	if t.Next == StateFailed {
		s.FailureReason = r.Reason
	}
	if t.Via != "" {
		out.Path = append(out.Path, t.Via)
	}
	out.Path = append(out.Path, t.Next)
	out.Order = t.Order
	out.Alert = t.Alert

	s.State = t.Next
	s.UpdatedAt = now
	return out
}

// Compensations devuelve los comandos que deshacen los pasos completados, del último al primero.
func (s *Saga) Compensations() []Command {
	var cmds []Command
	for i := len(s.Steps) - 1; i >= 0; i-- {
		step := s.Steps[i]
		if c, ok := compensationFor[step.Name]; ok {
			cmds = append(cmds, Command{Type: c, Reference: step.Reference})
		}
	}
	return cmds
}

// Step devuelve el paso completado con ese nombre.
func (s *Saga) Step(name StepName) (CompletedStep, bool) {
	for _, st := range s.Steps {
		if st.Name == name {
			return st, true
		}
	}
	return CompletedStep{}, false
}

// Expired indica si la saga sigue viva pasado su plazo.
func (s *Saga) Expired(now time.Time) bool {
	return !s.State.Terminal() && !now.Before(s.DeadlineAt)
}

func (s *Saga) String() string {
	return fmt.Sprintf("saga(%s, %s, v%d)", s.CorrelationID, s.State, s.Version)
}
