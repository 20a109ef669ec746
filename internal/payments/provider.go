package payments

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the PSP does not know the requested resource.
var ErrNotFound = errors.New("payments: resource not found")

// SessionDetails normalises a PSP checkout session for reconciliation.
type SessionDetails struct {
	ID                string
	IntentID          string
	ClientReferenceID string
	Status            string
	PaymentStatus     string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
	Intent            *IntentDetails
}

// Paid reports whether the PSP considers the session settled.
func (s SessionDetails) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// IntentDetails normalises a PSP payment intent. MethodBrand and MethodLast4
// come from the intent's directly-attached payment method and back up the
// charge when no charge was expanded.
type IntentDetails struct {
	ID          string
	Status      string
	Amount      int64
	Currency    string
	Metadata    map[string]string
	Charge      *ChargeDetails
	MethodBrand string
	MethodLast4 string
}

// Succeeded reports whether the intent captured successfully.
func (i IntentDetails) Succeeded() bool {
	return i.Status == "succeeded"
}

// ChargeDetails carries the charge level fields needed for payment metadata.
type ChargeDetails struct {
	ID             string
	MethodType     string
	Brand          string
	Last4          string
	Wallet         string
	Paid           bool
	Refunded       bool
	AmountRefunded int64
	Amount         int64
}

// Retriever fetches live payment state from the PSP. Implementations expand
// nested objects so callers never need follow-up requests.
type Retriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error)
	RetrieveIntent(ctx context.Context, intentID string) (IntentDetails, error)
}
