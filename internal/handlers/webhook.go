package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"

	"github.com/fieldline/payments-api/internal/payments"
	"github.com/fieldline/payments-api/internal/platform/httpx"
	"github.com/fieldline/payments-api/internal/platform/requestctx"
	"github.com/fieldline/payments-api/internal/services"
)

const signatureHeader = "Stripe-Signature"

// Stripe events are small; anything past this is not a webhook we sent for.
const maxWebhookBody = 1 << 20

// EventVerifier authenticates a raw webhook payload against its signature.
type EventVerifier interface {
	Verify(ctx context.Context, payload []byte, signature string) (stripe.Event, error)
}

// WebhookHandlers serves the PSP webhook intake endpoint.
type WebhookHandlers struct {
	verifier EventVerifier
	service  services.ReconcileService
}

// NewWebhookHandlers validates dependencies and builds the webhook handlers.
func NewWebhookHandlers(verifier EventVerifier, service services.ReconcileService) (*WebhookHandlers, error) {
	if verifier == nil {
		return nil, errors.New("webhook handlers: verifier is required")
	}
	if service == nil {
		return nil, errors.New("webhook handlers: reconcile service is required")
	}
	return &WebhookHandlers{verifier: verifier, service: service}, nil
}

// Register mounts the webhook routes on the given router group.
func (h *WebhookHandlers) Register(r chi.Router) {
	r.Post("/stripe", h.HandleStripe)
}

type webhookAck struct {
	OK      bool   `json:"ok"`
	Ignored bool   `json:"ignored,omitempty"`
	Reason  string `json:"reason,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

// HandleStripe verifies, classifies and reconciles one Stripe event delivery.
// Every "does not apply" outcome is acknowledged with 200 so Stripe stops
// redelivering; 500 is reserved for writes that must be retried.
func (h *WebhookHandlers) HandleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "unable to read request body", http.StatusBadRequest))
		return
	}

	event, err := h.verifier.Verify(ctx, payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrSignatureInvalid) {
			logger.Warn("webhook signature rejected")
			httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "unable to parse event payload", http.StatusBadRequest))
		return
	}

	outcome, err := h.service.ProcessEvent(ctx, payments.ParseEvent(event))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("update_failed", "event could not be applied", http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, webhookAck{
		OK:      outcome.OK,
		Ignored: outcome.Ignored,
		Reason:  outcome.Reason,
		OrderID: outcome.OrderID,
	})
}
