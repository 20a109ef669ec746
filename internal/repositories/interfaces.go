package repositories

import (
	"context"
	"time"

	"github.com/fieldline/payments-api/internal/domain"
)

// PaidUpdate carries the fields written when an order transitions to paid.
// Empty reference fields and a zero amount leave the stored value untouched
// so partial PSP payloads never erase earlier data.
type PaidUpdate struct {
	OrderID            string
	PaidAt             time.Time
	PaymentProvider    string
	PaymentIntentID    string
	ChargeID           string
	CheckoutSessionID  string
	PaymentMethodBrand string
	PaymentLast4       string
	TotalCents         int64
	Currency           string
}

// RefundUpdate carries the fields written when an order transitions to refunded.
type RefundUpdate struct {
	OrderID    string
	RefundedAt time.Time
	ChargeID   string
}

// OrderRepository exposes the order persistence operations payment
// reconciliation needs. Implementations must enforce the transition guards
// atomically; callers treat ErrConflict as "another writer got there first".
type OrderRepository interface {
	// GetPaymentState loads the payment facet of an order.
	GetPaymentState(ctx context.Context, orderID string) (domain.Order, error)
	// FindIDBySessionID resolves an order id from a stored checkout session id.
	FindIDBySessionID(ctx context.Context, sessionID string) (string, error)
	// FindIDByIntentID resolves an order id from a stored payment intent id.
	FindIDByIntentID(ctx context.Context, intentID string) (string, error)
	// ApplyPaidTransition conditionally marks the order paid. Returns
	// ErrNotFound when the order does not exist and ErrConflict when the
	// order already reached a terminal state.
	ApplyPaidTransition(ctx context.Context, update PaidUpdate) error
	// ApplyRefundTransition conditionally marks the order refunded. Canceled
	// and already refunded orders are left untouched and reported as
	// ErrConflict.
	ApplyRefundTransition(ctx context.Context, update RefundUpdate) error
}

// EventRecord is the idempotency log entry for a processed webhook event.
type EventRecord struct {
	EventID    string
	EventType  string
	OrderID    string
	Payload    []byte
	ReceivedAt time.Time
}

// EventLogRepository records processed PSP event ids so redeliveries can be
// detected. Implementations degrade to a no-op when the log table is absent
// rather than blocking webhook processing.
type EventLogRepository interface {
	// InsertIfAbsent stores the record and reports whether the event id was
	// seen for the first time.
	InsertIfAbsent(ctx context.Context, record EventRecord) (bool, error)
}
