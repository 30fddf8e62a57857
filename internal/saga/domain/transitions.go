package domain

// OrderAction es el efecto que una transición tiene sobre el pedido.
type OrderAction int

const (
	OrderNone OrderAction = iota
	OrderConfirm
	OrderShip
	OrderCancel
)

// Transition describe qué hacer cuando llega un disparador en un estado.
type Transition struct {
	Next       State
	Via        State       // estado intermedio registrado en el historial, si lo hay
	Record     StepName    // paso completado a anotar
	Issue      CommandType // comando de avance a emitir
	Order      OrderAction
	Compensate bool // emite las compensaciones de los pasos completados en orden inverso
	Alert      bool // requiere aviso a operadores
}

type transitionKey struct {
	from State
	on   Trigger
}

// transitions es la tabla completa (estado × disparador). Lo que no aparece se ignora.
var transitions = map[transitionKey]Transition{
	{StateStarted, TriggerStockReserved}: {
		Next: StateStockReserved, Record: StepReserveStock, Issue: CommandProcessPayment,
	},
	{StateStarted, TriggerStockReservationFailed}: {
		Next: StateFailed, Order: OrderCancel,
	},
	{StateStockReserved, TriggerPaymentProcessed}: {
		Next: StatePaymentProcessed, Record: StepProcessPayment, Issue: CommandCreateShipment, Order: OrderConfirm,
	},
	{StateStockReserved, TriggerPaymentFailed}: {
		Next: StateFailed, Via: StateCompensating, Compensate: true, Order: OrderCancel,
	},
	{StatePaymentProcessed, TriggerShipmentCreated}: {
		Next: StateCompleted, Via: StateShipmentCreated, Record: StepCreateShipment, Order: OrderShip,
	},
	{StatePaymentProcessed, TriggerShipmentCreationFailed}: {
		Next: StateFailed, Via: StateCompensating, Compensate: true, Order: OrderCancel,
	},
}

func init() {
	for _, s := range []State{StateStarted, StateStockReserved, StatePaymentProcessed, StateShipmentCreated, StateCompensating} {
		transitions[transitionKey{s, TriggerSagaTimeout}] = Transition{
			Next: StateFailed, Via: StateCompensating, Compensate: true, Order: OrderCancel, Alert: true,
		}
	}
}

// Lookup devuelve la transición para (from, on), si existe.
func Lookup(from State, on Trigger) (Transition, bool) {
	t, ok := transitions[transitionKey{from, on}]
	return t, ok
}

// compensationFor mapea cada paso con el comando que lo deshace.
var compensationFor = map[StepName]CommandType{
	StepReserveStock:   CommandReleaseStock,
	StepProcessPayment: CommandRefundPayment,
}
