package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Comandos hacia los colaboradores.
const (
	ReserveStock   = "ReserveStock"
	ProcessPayment = "ProcessPayment"
	CreateShipment = "CreateShipment"
	ReleaseStock   = "ReleaseStock"
	RefundPayment  = "RefundPayment"
)

// Respuestas de los colaboradores y disparadores internos.
const (
	StockReserved          = "StockReserved"
	StockReservationFailed = "StockReservationFailed"
	PaymentProcessed       = "PaymentProcessed"
	PaymentFailed          = "PaymentFailed"
	ShipmentCreated        = "ShipmentCreated"
	ShipmentCreationFailed = "ShipmentCreationFailed"
	SagaTimeout            = "SagaTimeout"
)

// Topics agrupa los nombres de topic por colaborador.
type Topics struct {
	Orders    string
	Replies   string
	Inventory string
	Payment   string
	Shipping  string
}

func DefaultTopics() Topics {
	return Topics{
		Orders:    "orders",
		Replies:   "fulfillment.replies",
		Inventory: "inventory.commands",
		Payment:   "payment.commands",
		Shipping:  "shipping.commands",
	}
}

// Estos son contratos de integración, no entidades del dominio.

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type ReserveStockCommand struct {
	OrderID string `json:"orderId"`
	Items   []Item `json:"items"`
}

type ProcessPaymentCommand struct {
	OrderID    string          `json:"orderId"`
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
}

type CreateShipmentCommand struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Items      []Item `json:"items"`
}

type ReleaseStockCommand struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
}

type RefundPaymentCommand struct {
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
}

type StockReservedReply struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
}

type StockReservationFailedReply struct {
	OrderID          string   `json:"orderId"`
	Reason           string   `json:"reason"`
	UnavailableItems []string `json:"unavailableItems,omitempty"`
}

type PaymentProcessedReply struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
}

type PaymentFailedReply struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type ShipmentCreatedReply struct {
	OrderID     string `json:"orderId"`
	TrackingRef string `json:"trackingRef"`
}

type ShipmentCreationFailedReply struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// SagaTimeoutSignal lo emite el barrido de sagas vencidas.
type SagaTimeoutSignal struct {
	OrderID    string    `json:"orderId"`
	DeadlineAt time.Time `json:"deadlineAt"`
}

// FailureReply es la forma común de las tres respuestas negativas.
type FailureReply struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// FailureReplyFor devuelve el tipo de respuesta negativa equivalente a un comando
// de avance. Las compensaciones no tienen equivalente.
func FailureReplyFor(commandType string) (string, bool) {
	switch commandType {
	case ReserveStock:
		return StockReservationFailed, true
	case ProcessPayment:
		return PaymentFailed, true
	case CreateShipment:
		return ShipmentCreationFailed, true
	default:
		return "", false
	}
}
