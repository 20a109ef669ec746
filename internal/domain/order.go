package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus enumerates the lifecycle states of an order's payment facet.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the payment settled; terminal for this service.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusRefunded indicates funds were returned; terminal.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCompleted indicates downstream fulfilment finished; terminal.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled indicates the order was withdrawn; terminal.
	OrderStatusCanceled OrderStatus = "canceled"
)

// PaymentStatus mirrors the paid/unpaid facet tracked alongside the order status.
type PaymentStatus string

const (
	// PaymentStatusUnpaid is the initial payment state.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid marks settled payments and acts as an additional terminal signal.
	PaymentStatusPaid PaymentStatus = "paid"
)

// Order is the durable record this service reconciles payment events against.
// Rows are created by the upstream order-creation flow; this service only
// transitions their payment facet and never deletes them.
type Order struct {
	ID                 string
	Status             OrderStatus
	PaymentStatus      PaymentStatus
	PaidAt             *time.Time
	PaymentProvider    string
	PaymentIntentID    string
	ChargeID           string
	CheckoutSessionID  string
	PaymentMethodBrand string
	PaymentLast4       string
	TotalCents         int64
	Currency           string
	UpdatedAt          time.Time
}

// Terminal reports whether the order may no longer be transitioned by payment
// events. Either facet reaching a terminal value blocks further writes; the
// superset predicate is deliberate, losing a redundant write is always safer
// than overwriting a settled or cancelled order.
func (o Order) Terminal() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusRefunded, OrderStatusCompleted, OrderStatusCanceled:
		return true
	}
	return o.PaymentStatus == PaymentStatusPaid
}

// ValidOrderID reports whether the candidate parses as a UUID. Events that
// resolve to anything else are ignored rather than risking a write against an
// unintended row.
func ValidOrderID(candidate string) bool {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return false
	}
	_, err := uuid.Parse(trimmed)
	return err == nil
}
