package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fieldline/payments-api/internal/domain"
	"github.com/fieldline/payments-api/internal/repositories"
)

// OrderLogger defines the logging contract for repository operations.
type OrderLogger func(ctx context.Context, event string, fields map[string]any)

// OrderRepository persists orders in Postgres.
type OrderRepository struct {
	db     Querier
	logger OrderLogger
	now    func() time.Time
}

// OrderRepositoryOption customises OrderRepository construction.
type OrderRepositoryOption func(*OrderRepository)

// WithOrderLogger sets the logger used for repository diagnostics.
func WithOrderLogger(logger OrderLogger) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOrderClock overrides the clock, primarily for tests.
func WithOrderClock(now func() time.Time) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewOrderRepository builds an OrderRepository over the supplied querier.
func NewOrderRepository(db Querier, opts ...OrderRepositoryOption) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("postgres: querier is required")
	}
	r := &OrderRepository{
		db:     db,
		logger: func(context.Context, string, map[string]any) {},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

const orderStateQuery = `
SELECT id, status, payment_status, paid_at, payment_provider, payment_intent_id,
       charge_id, checkout_session_id, payment_method_brand, payment_last4,
       total_cents, currency, updated_at
FROM orders
WHERE id = $1`

// GetPaymentState loads the payment facet of an order.
func (r *OrderRepository) GetPaymentState(ctx context.Context, orderID string) (domain.Order, error) {
	var (
		order    domain.Order
		paidAt   *time.Time
		provider *string
		intentID *string
		chargeID *string
		session  *string
		brand    *string
		last4    *string
	)
	err := r.db.QueryRow(ctx, orderStateQuery, orderID).Scan(
		&order.ID, &order.Status, &order.PaymentStatus, &paidAt, &provider,
		&intentID, &chargeID, &session, &brand, &last4,
		&order.TotalCents, &order.Currency, &order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, repositories.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	order.PaidAt = paidAt
	order.PaymentProvider = deref(provider)
	order.PaymentIntentID = deref(intentID)
	order.ChargeID = deref(chargeID)
	order.CheckoutSessionID = deref(session)
	order.PaymentMethodBrand = deref(brand)
	order.PaymentLast4 = deref(last4)
	return order, nil
}

// FindIDBySessionID resolves the order carrying the given checkout session id.
// The newest match wins if the reference was ever reused.
func (r *OrderRepository) FindIDBySessionID(ctx context.Context, sessionID string) (string, error) {
	return r.findID(ctx, `SELECT id FROM orders WHERE checkout_session_id = $1 ORDER BY updated_at DESC LIMIT 1`, sessionID)
}

// FindIDByIntentID resolves the order carrying the given payment intent id.
func (r *OrderRepository) FindIDByIntentID(ctx context.Context, intentID string) (string, error) {
	return r.findID(ctx, `SELECT id FROM orders WHERE payment_intent_id = $1 ORDER BY updated_at DESC LIMIT 1`, intentID)
}

func (r *OrderRepository) findID(ctx context.Context, query, ref string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, query, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", repositories.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: reverse lookup: %w", err)
	}
	return id, nil
}

const applyPaidQuery = `
UPDATE orders
SET status = 'paid',
    payment_status = 'paid',
    paid_at = $2,
    payment_provider = COALESCE(NULLIF($3, ''), payment_provider),
    payment_intent_id = COALESCE(NULLIF($4, ''), payment_intent_id),
    charge_id = COALESCE(NULLIF($5, ''), charge_id),
    checkout_session_id = COALESCE(NULLIF($6, ''), checkout_session_id),
    payment_method_brand = COALESCE(NULLIF($7, ''), payment_method_brand),
    payment_last4 = COALESCE(NULLIF($8, ''), payment_last4),
    total_cents = COALESCE(NULLIF($9, 0), total_cents),
    currency = COALESCE(NULLIF($10, ''), currency),
    updated_at = $11
WHERE id = $1
  AND status NOT IN ('paid', 'refunded', 'completed', 'canceled')
  AND payment_status <> 'paid'`

// ApplyPaidTransition conditionally marks the order paid. The guard repeats
// the terminal predicate inside the UPDATE so concurrent deliveries cannot
// both win.
func (r *OrderRepository) ApplyPaidTransition(ctx context.Context, update repositories.PaidUpdate) error {
	tag, err := r.db.Exec(ctx, applyPaidQuery,
		update.OrderID,
		update.PaidAt.UTC(),
		update.PaymentProvider,
		update.PaymentIntentID,
		update.ChargeID,
		update.CheckoutSessionID,
		update.PaymentMethodBrand,
		update.PaymentLast4,
		update.TotalCents,
		update.Currency,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: apply paid transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, update.OrderID)
	}
	r.logger(ctx, "orders.transition.paid", map[string]any{
		"orderId":  update.OrderID,
		"chargeId": update.ChargeID,
	})
	return nil
}

const applyRefundQuery = `
UPDATE orders
SET status = 'refunded',
    charge_id = COALESCE(NULLIF($2, ''), charge_id),
    updated_at = $3
WHERE id = $1
  AND status NOT IN ('refunded', 'canceled')`

// ApplyRefundTransition conditionally marks the order refunded. Paid and
// completed orders are eligible; canceled orders are not.
func (r *OrderRepository) ApplyRefundTransition(ctx context.Context, update repositories.RefundUpdate) error {
	tag, err := r.db.Exec(ctx, applyRefundQuery,
		update.OrderID,
		update.ChargeID,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: apply refund transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, update.OrderID)
	}
	r.logger(ctx, "orders.transition.refunded", map[string]any{
		"orderId":  update.OrderID,
		"chargeId": update.ChargeID,
	})
	return nil
}

// classifyMiss distinguishes a missing row from a guard rejection after a
// zero-row update.
func (r *OrderRepository) classifyMiss(ctx context.Context, orderID string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: classify update miss: %w", err)
	}
	if !exists {
		return repositories.ErrNotFound
	}
	return repositories.ErrConflict
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
