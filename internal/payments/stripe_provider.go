package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe retriever operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// StripeRetrieverConfig configures the StripeRetriever.
type StripeRetrieverConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeRetriever implements the Retriever interface using Stripe APIs.
type StripeRetriever struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeRetriever constructs a Stripe Retriever using the given configuration.
func NewStripeRetriever(cfg StripeRetrieverConfig) (*StripeRetriever, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			intents:  sc.PaymentIntents,
		}
	}

	if clients.sessions == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeRetriever{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RetrieveSession fetches a Checkout session with its intent and latest charge expanded.
func (r *StripeRetriever) RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	if r == nil {
		return SessionDetails{}, errors.New("stripe: retriever is nil")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent.latest_charge")
	if r.account != "" {
		params.SetStripeAccount(r.account)
	}
	session, err := r.api.sessions.Get(sessionID, params)
	if err != nil {
		return SessionDetails{}, wrapStripeError("retrieve checkout session", err)
	}
	details := SessionDetailsFromStripe(session)
	r.logger(ctx, "payments.stripe.session.retrieved", map[string]any{
		"sessionId":     details.ID,
		"paymentIntent": details.IntentID,
		"paymentStatus": details.PaymentStatus,
	})
	return details, nil
}

// RetrieveIntent fetches a Payment Intent with its latest charge expanded.
func (r *StripeRetriever) RetrieveIntent(ctx context.Context, intentID string) (IntentDetails, error) {
	if r == nil {
		return IntentDetails{}, errors.New("stripe: retriever is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if r.account != "" {
		params.SetStripeAccount(r.account)
	}
	intent, err := r.api.intents.Get(intentID, params)
	if err != nil {
		return IntentDetails{}, wrapStripeError("retrieve payment intent", err)
	}
	details := IntentDetailsFromStripe(intent)
	r.logger(ctx, "payments.stripe.intent.retrieved", map[string]any{
		"paymentIntent": details.ID,
		"status":        details.Status,
	})
	return details, nil
}

func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("stripe: %s: %w", op, ErrNotFound)
		}
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}

// SessionDetailsFromStripe normalises a Stripe Checkout session, including an
// expanded intent when present.
func SessionDetailsFromStripe(session *stripe.CheckoutSession) SessionDetails {
	if session == nil {
		return SessionDetails{}
	}
	details := SessionDetails{
		ID:                session.ID,
		ClientReferenceID: session.ClientReferenceID,
		Status:            string(session.Status),
		PaymentStatus:     string(session.PaymentStatus),
		AmountTotal:       session.AmountTotal,
		Currency:          strings.ToLower(string(session.Currency)),
		Metadata:          session.Metadata,
	}
	if session.PaymentIntent != nil {
		details.IntentID = session.PaymentIntent.ID
		// The intent only carries usable fields when the caller expanded it.
		if session.PaymentIntent.Status != "" || session.PaymentIntent.LatestCharge != nil {
			intent := IntentDetailsFromStripe(session.PaymentIntent)
			details.Intent = &intent
		}
	}
	return details
}

// IntentDetailsFromStripe normalises a Stripe Payment Intent.
func IntentDetailsFromStripe(intent *stripe.PaymentIntent) IntentDetails {
	if intent == nil {
		return IntentDetails{}
	}
	details := IntentDetails{
		ID:       intent.ID,
		Status:   string(intent.Status),
		Amount:   intent.Amount,
		Currency: strings.ToLower(string(intent.Currency)),
		Metadata: intent.Metadata,
		Charge:   ChargeDetailsFromStripe(intent.LatestCharge),
	}
	if pm := intent.PaymentMethod; pm != nil && pm.Card != nil {
		details.MethodBrand = string(pm.Card.Brand)
		details.MethodLast4 = pm.Card.Last4
	}
	return details
}

// ChargeDetailsFromStripe normalises a Stripe Charge. Returns nil for a nil charge.
func ChargeDetailsFromStripe(charge *stripe.Charge) *ChargeDetails {
	if charge == nil {
		return nil
	}
	details := &ChargeDetails{
		ID:             charge.ID,
		Paid:           charge.Paid,
		Refunded:       charge.Refunded,
		AmountRefunded: charge.AmountRefunded,
		Amount:         charge.Amount,
	}
	if pmd := charge.PaymentMethodDetails; pmd != nil {
		details.MethodType = string(pmd.Type)
		if pmd.Card != nil {
			details.Brand = string(pmd.Card.Brand)
			details.Last4 = pmd.Card.Last4
			if pmd.Card.Wallet != nil {
				details.Wallet = string(pmd.Card.Wallet.Type)
			}
		}
	}
	return details
}
