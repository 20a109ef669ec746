package payments

import (
	"testing"

	"github.com/stripe/stripe-go/v78"
)

func TestSummarizeCharge(t *testing.T) {
	tests := []struct {
		name   string
		charge *ChargeDetails
		want   CardSummary
	}{
		{
			name:   "nil charge",
			charge: nil,
			want:   CardSummary{},
		},
		{
			name: "card payment",
			charge: &ChargeDetails{
				ID:         "ch_1",
				MethodType: "card",
				Brand:      "Visa",
				Last4:      "4242",
			},
			want: CardSummary{Brand: "visa", Last4: "4242", ChargeID: "ch_1"},
		},
		{
			name: "card wallet keeps card brand",
			charge: &ChargeDetails{
				ID:         "ch_2",
				MethodType: "card",
				Brand:      "mastercard",
				Last4:      "4444",
				Wallet:     "apple_pay",
			},
			want: CardSummary{Brand: "mastercard", Last4: "4444", ChargeID: "ch_2"},
		},
		{
			name: "wallet without card detail",
			charge: &ChargeDetails{
				ID:         "ch_3",
				MethodType: "card",
				Wallet:     "google_pay",
			},
			want: CardSummary{Brand: "google_pay", ChargeID: "ch_3"},
		},
		{
			name: "non card method",
			charge: &ChargeDetails{
				ID:         "ch_4",
				MethodType: "link",
			},
			want: CardSummary{Brand: "link", ChargeID: "ch_4"},
		},
		{
			name: "card method without detail stays blank",
			charge: &ChargeDetails{
				ID:         "ch_5",
				MethodType: "card",
			},
			want: CardSummary{ChargeID: "ch_5"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SummarizeCharge(tc.charge)
			if got != tc.want {
				t.Errorf("SummarizeCharge() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSummarizeIntentFallsBackToAttachedMethod(t *testing.T) {
	tests := []struct {
		name   string
		intent *IntentDetails
		want   CardSummary
	}{
		{
			name:   "nil intent",
			intent: nil,
			want:   CardSummary{},
		},
		{
			name: "charge wins over attached method",
			intent: &IntentDetails{
				Charge:      &ChargeDetails{ID: "ch_1", Brand: "amex", Last4: "0005"},
				MethodBrand: "visa",
				MethodLast4: "4242",
			},
			want: CardSummary{Brand: "amex", Last4: "0005", ChargeID: "ch_1"},
		},
		{
			name:   "attached method card when charge absent",
			intent: &IntentDetails{ID: "pi_1", MethodBrand: "Visa", MethodLast4: "4242"},
			want:   CardSummary{Brand: "visa", Last4: "4242"},
		},
		{
			name:   "nothing known",
			intent: &IntentDetails{ID: "pi_2"},
			want:   CardSummary{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SummarizeIntent(tc.intent)
			if got != tc.want {
				t.Errorf("SummarizeIntent() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSummarizeIntentFromStripeWithoutCharge(t *testing.T) {
	intent := &stripe.PaymentIntent{
		ID:     "pi_1",
		Status: stripe.PaymentIntentStatusSucceeded,
		PaymentMethod: &stripe.PaymentMethod{
			ID:   "pm_1",
			Card: &stripe.PaymentMethodCard{Brand: stripe.PaymentMethodCardBrandVisa, Last4: "4242"},
		},
	}

	details := IntentDetailsFromStripe(intent)
	got := SummarizeIntent(&details)
	want := CardSummary{Brand: "visa", Last4: "4242"}
	if got != want {
		t.Errorf("SummarizeIntent() = %+v, want %+v", got, want)
	}
}

func TestSummarizeSessionFallsBackThroughIntent(t *testing.T) {
	session := SessionDetails{
		ID: "cs_1",
		Intent: &IntentDetails{
			ID: "pi_1",
			Charge: &ChargeDetails{
				ID:    "ch_9",
				Brand: "amex",
				Last4: "0005",
			},
		},
	}

	got := SummarizeSession(session)
	want := CardSummary{Brand: "amex", Last4: "0005", ChargeID: "ch_9"}
	if got != want {
		t.Errorf("SummarizeSession() = %+v, want %+v", got, want)
	}

	if got := SummarizeSession(SessionDetails{ID: "cs_2"}); !got.Empty() {
		t.Errorf("expected empty summary for unexpanded session, got %+v", got)
	}
}
