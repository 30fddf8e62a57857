package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrOrderNotFound     = errors.New("order not found")
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusShipped   OrderStatus = "shipped"
	StatusCancelled OrderStatus = "cancelled"
)

type Line struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Subtotal = cantidad × precio unitario.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order es el agregado de pedido. Nunca se borra; se cancela.
type Order struct {
	ID           uuid.UUID       `json:"id"`
	CustomerID   string          `json:"customerId"`
	Lines        []Line          `json:"lines"`
	Status       OrderStatus     `json:"status"`
	Total        decimal.Decimal `json:"total"`
	TrackingRef  string          `json:"trackingRef,omitempty"`
	CancelReason string          `json:"cancelReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`

	events []Event
}

func (o *Order) PartitionKey() string {
	return o.ID.String()
}

// Create valida las líneas y devuelve un pedido pendiente con su evento order.created.
func Create(customerID string, lines []Line, minTotal decimal.Decimal) (*Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidOrder)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidOrder)
	}

	total := decimal.Zero
	for i, l := range lines {
		switch {
		case strings.TrimSpace(l.ProductID) == "":
			return nil, fmt.Errorf("%w: line %d has no product id", ErrInvalidOrder, i)
		case l.Quantity <= 0:
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidOrder, i)
		case l.UnitPrice.IsNegative():
			return nil, fmt.Errorf("%w: line %d unit price must not be negative", ErrInvalidOrder, i)
		}
		total = total.Add(l.Subtotal())
	}
	if total.LessThan(minTotal) {
		return nil, fmt.Errorf("%w: total %s below minimum %s", ErrInvalidOrder, total.StringFixed(2), minTotal.StringFixed(2))
	}

	now := time.Now().UTC()
	o := &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Lines:      append([]Line(nil), lines...),
		Status:     StatusPending,
		Total:      total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.record(EventCreated, "")
	return o, nil
}

// Confirm: pending → confirmed (pago cobrado).
func (o *Order) Confirm() error {
	if o.Status != StatusPending {
		return o.invalid("confirm")
	}
	o.Status = StatusConfirmed
	o.touch()
	o.record(EventConfirmed, "")
	return nil
}

// Ship: confirmed → shipped.
func (o *Order) Ship(trackingRef string) error {
	if o.Status != StatusConfirmed {
		return o.invalid("ship")
	}
	o.Status = StatusShipped
	o.TrackingRef = trackingRef
	o.touch()
	o.record(EventShipped, "")
	return nil
}

// Cancel está permitido desde pending o confirmed.
func (o *Order) Cancel(reason string) error {
	if o.Status == StatusShipped || o.Status == StatusCancelled {
		return o.invalid("cancel")
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.touch()
	o.record(EventCancelled, reason)
	return nil
}

// PendingEvents devuelve los eventos aún no volcados al outbox.
func (o *Order) PendingEvents() []Event {
	return append([]Event(nil), o.events...)
}

func (o *Order) ClearEvents() {
	o.events = nil
}

func (o *Order) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s order in status %s", ErrInvalidTransition, op, o.Status)
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) record(eventType, reason string) {
	o.events = append(o.events, Event{
		Type: eventType,
		Data: EventData{
			OrderID:     o.ID.String(),
			CustomerID:  o.CustomerID,
			Status:      string(o.Status),
			Total:       o.Total,
			TrackingRef: o.TrackingRef,
			Reason:      reason,
		},
		OccurredAt: o.UpdatedAt,
	})
}
