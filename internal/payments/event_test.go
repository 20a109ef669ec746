package payments

import (
	"encoding/json"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

func mustEvent(t *testing.T, eventType, objectJSON string) stripe.Event {
	t.Helper()
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(objectJSON)},
	}
}

func TestParseEventSession(t *testing.T) {
	event := mustEvent(t, "checkout.session.completed", `{
		"id": "cs_1",
		"object": "checkout.session",
		"status": "complete",
		"payment_status": "paid",
		"client_reference_id": "11111111-1111-1111-1111-111111111111",
		"amount_total": 2500,
		"currency": "eur",
		"metadata": {"order_id": "11111111-1111-1111-1111-111111111111"},
		"payment_intent": {"id": "pi_1"}
	}`)

	parsed := ParseEvent(event)
	if parsed.Kind != EventKindSessionPaid {
		t.Fatalf("unexpected kind %q", parsed.Kind)
	}
	if parsed.Session == nil {
		t.Fatal("expected session details")
	}
	if parsed.Session.ID != "cs_1" || parsed.Session.IntentID != "pi_1" {
		t.Errorf("unexpected session %+v", parsed.Session)
	}
	if !parsed.Session.Paid() {
		t.Error("expected session to report paid")
	}
	if parsed.Session.Metadata["order_id"] == "" {
		t.Error("expected metadata to survive parsing")
	}
}

func TestParseEventIntent(t *testing.T) {
	event := mustEvent(t, "payment_intent.succeeded", `{
		"id": "pi_2",
		"object": "payment_intent",
		"status": "succeeded",
		"amount": 900,
		"currency": "usd",
		"metadata": {"orderId": "22222222-2222-2222-2222-222222222222"},
		"latest_charge": {
			"id": "ch_2",
			"object": "charge",
			"paid": true,
			"payment_method_details": {"type": "card", "card": {"brand": "visa", "last4": "4242"}}
		}
	}`)

	parsed := ParseEvent(event)
	if parsed.Kind != EventKindIntentSucceeded {
		t.Fatalf("unexpected kind %q", parsed.Kind)
	}
	if parsed.Intent == nil || parsed.Intent.Charge == nil {
		t.Fatalf("expected expanded intent, got %+v", parsed.Intent)
	}
	if parsed.Intent.Charge.Brand != "visa" || parsed.Intent.Charge.Last4 != "4242" {
		t.Errorf("unexpected charge %+v", parsed.Intent.Charge)
	}
}

func TestParseEventChargeRefunded(t *testing.T) {
	event := mustEvent(t, "charge.refunded", `{
		"id": "ch_3",
		"object": "charge",
		"amount_refunded": 500,
		"currency": "eur",
		"payment_intent": {"id": "pi_3"},
		"metadata": {"order_id": "33333333-3333-3333-3333-333333333333"}
	}`)

	parsed := ParseEvent(event)
	if parsed.Kind != EventKindRefund {
		t.Fatalf("unexpected kind %q", parsed.Kind)
	}
	if parsed.Refund == nil {
		t.Fatal("expected refund details")
	}
	if parsed.Refund.ChargeID != "ch_3" || parsed.Refund.IntentID != "pi_3" {
		t.Errorf("unexpected refund %+v", parsed.Refund)
	}
	if parsed.Refund.Amount != 500 {
		t.Errorf("unexpected refunded amount %d", parsed.Refund.Amount)
	}
}

func TestParseEventClassification(t *testing.T) {
	tests := []struct {
		eventType string
		want      EventKind
	}{
		{"checkout.session.async_payment_succeeded", EventKindSessionPaid},
		{"refund.created", EventKindRefund},
		{"checkout.session.expired", EventKindTerminalFailure},
		{"payment_intent.payment_failed", EventKindTerminalFailure},
		{"invoice.created", EventKindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.eventType, func(t *testing.T) {
			parsed := ParseEvent(mustEvent(t, tc.eventType, `{}`))
			if parsed.Kind != tc.want {
				t.Errorf("kind = %q, want %q", parsed.Kind, tc.want)
			}
		})
	}
}

func TestParseEventMalformedPayload(t *testing.T) {
	parsed := ParseEvent(mustEvent(t, "checkout.session.completed", `{"id": 42}`))
	if parsed.Kind != EventKindSessionPaid {
		t.Fatalf("unexpected kind %q", parsed.Kind)
	}
	if parsed.Session != nil {
		t.Errorf("expected nil session for malformed payload, got %+v", parsed.Session)
	}
}
