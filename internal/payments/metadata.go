package payments

import "strings"

// CardSummary holds the stored-facing payment method fields derived from a
// charge. Empty fields mean the PSP did not report the detail; extraction
// never fails.
type CardSummary struct {
	Brand    string
	Last4    string
	ChargeID string
}

// Empty reports whether extraction produced no usable detail.
func (c CardSummary) Empty() bool {
	return c.Brand == "" && c.Last4 == "" && c.ChargeID == ""
}

// SummarizeCharge derives the displayable payment method summary from a
// normalised charge. Card payments yield brand and last4. Wallet payments
// without card detail surface the wallet name as the brand. Any other method
// type is reported as the brand with no last4.
func SummarizeCharge(charge *ChargeDetails) CardSummary {
	if charge == nil {
		return CardSummary{}
	}
	summary := CardSummary{ChargeID: charge.ID}

	brand := strings.TrimSpace(charge.Brand)
	last4 := strings.TrimSpace(charge.Last4)
	if brand != "" || last4 != "" {
		summary.Brand = strings.ToLower(brand)
		summary.Last4 = last4
		return summary
	}

	if wallet := strings.TrimSpace(charge.Wallet); wallet != "" {
		summary.Brand = strings.ToLower(wallet)
		return summary
	}
	if method := strings.TrimSpace(charge.MethodType); method != "" && method != "card" {
		summary.Brand = strings.ToLower(method)
	}
	return summary
}

// SummarizeIntent extracts the payment method summary from an intent's latest
// charge, falling back to the intent's attached payment method card when no
// charge was expanded.
func SummarizeIntent(intent *IntentDetails) CardSummary {
	if intent == nil {
		return CardSummary{}
	}
	if intent.Charge != nil {
		return SummarizeCharge(intent.Charge)
	}
	return CardSummary{
		Brand: strings.ToLower(strings.TrimSpace(intent.MethodBrand)),
		Last4: strings.TrimSpace(intent.MethodLast4),
	}
}

// SummarizeSession prefers the session's expanded intent charge and falls back
// to an empty summary when the session carries no expansion.
func SummarizeSession(session SessionDetails) CardSummary {
	if session.Intent == nil {
		return CardSummary{}
	}
	return SummarizeIntent(session.Intent)
}
