package payments

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v78"
)

// EventKind classifies webhook event types into the flows the reconciler runs.
type EventKind string

const (
	// EventKindSessionPaid covers checkout session completion events.
	EventKindSessionPaid EventKind = "session_paid"
	// EventKindIntentSucceeded covers direct payment intent success events.
	EventKindIntentSucceeded EventKind = "intent_succeeded"
	// EventKindRefund covers refund and charge.refunded events.
	EventKindRefund EventKind = "refund"
	// EventKindTerminalFailure covers expiry and payment failure events,
	// which are acknowledged without a state change.
	EventKindTerminalFailure EventKind = "terminal_failure"
	// EventKindUnknown covers every event type this service does not handle.
	EventKindUnknown EventKind = "unknown"
)

// RefundDetails normalises a PSP refund object.
type RefundDetails struct {
	ID       string
	ChargeID string
	IntentID string
	Amount   int64
	Currency string
	Status   string
	Metadata map[string]string
}

// WebhookEvent is the verified, normalised form handed to the reconciler.
// The decoded object fields are set according to Kind; charge.refunded
// deliveries carry both the Charge and a Refund view derived from it. All
// nil means the payload could not be decoded and the event is ignored.
type WebhookEvent struct {
	ID      string
	Type    string
	Kind    EventKind
	Session *SessionDetails
	Intent  *IntentDetails
	Charge  *ChargeDetails
	Refund  *RefundDetails
	Payload []byte
}

// ParseEvent classifies a verified Stripe event and decodes its nested object.
// Decode failures leave the object nil rather than erroring; the caller treats
// an event without a usable object as ignorable.
func ParseEvent(event stripe.Event) WebhookEvent {
	parsed := WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Payload: event.Data.Raw,
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		parsed.Kind = EventKindSessionPaid
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err == nil {
			details := SessionDetailsFromStripe(&session)
			parsed.Session = &details
		}
	case "payment_intent.succeeded":
		parsed.Kind = EventKindIntentSucceeded
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err == nil {
			details := IntentDetailsFromStripe(&intent)
			parsed.Intent = &details
		}
	case "charge.refunded":
		parsed.Kind = EventKindRefund
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err == nil {
			parsed.Charge = ChargeDetailsFromStripe(&charge)
			refund := RefundDetails{
				ChargeID: charge.ID,
				Amount:   charge.AmountRefunded,
				Currency: string(charge.Currency),
				Metadata: charge.Metadata,
			}
			if charge.PaymentIntent != nil {
				refund.IntentID = charge.PaymentIntent.ID
			}
			parsed.Refund = &refund
		}
	case "refund.created", "refund.updated":
		parsed.Kind = EventKindRefund
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err == nil {
			details := RefundDetails{
				ID:       refund.ID,
				Amount:   refund.Amount,
				Currency: string(refund.Currency),
				Status:   string(refund.Status),
				Metadata: refund.Metadata,
			}
			if refund.Charge != nil {
				details.ChargeID = refund.Charge.ID
			}
			if refund.PaymentIntent != nil {
				details.IntentID = refund.PaymentIntent.ID
			}
			parsed.Refund = &details
		}
	case "checkout.session.expired", "payment_intent.payment_failed":
		parsed.Kind = EventKindTerminalFailure
	default:
		parsed.Kind = EventKindUnknown
	}

	return parsed
}
