package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v78"

	"github.com/fieldline/payments-api/internal/payments"
	"github.com/fieldline/payments-api/internal/services"
)

type fakeVerifier struct {
	event stripe.Event
	err   error

	gotPayload   []byte
	gotSignature string
}

func (f *fakeVerifier) Verify(_ context.Context, payload []byte, signature string) (stripe.Event, error) {
	f.gotPayload = payload
	f.gotSignature = signature
	if f.err != nil {
		return stripe.Event{}, f.err
	}
	return f.event, nil
}

type fakeReconcileService struct {
	outcome services.ReconcileOutcome
	err     error

	confirmResult services.ConfirmResult
	confirmErr    error

	gotEvent   payments.WebhookEvent
	gotConfirm services.ConfirmRequest
	calls      int
}

func (f *fakeReconcileService) ProcessEvent(_ context.Context, event payments.WebhookEvent) (services.ReconcileOutcome, error) {
	f.calls++
	f.gotEvent = event
	return f.outcome, f.err
}

func (f *fakeReconcileService) ConfirmCheckout(_ context.Context, req services.ConfirmRequest) (services.ConfirmResult, error) {
	f.calls++
	f.gotConfirm = req
	return f.confirmResult, f.confirmErr
}

func newWebhookRouter(t *testing.T, verifier EventVerifier, service services.ReconcileService) http.Handler {
	t.Helper()
	handlers, err := NewWebhookHandlers(verifier, service)
	if err != nil {
		t.Fatalf("NewWebhookHandlers: %v", err)
	}
	return NewRouter(WithWebhookRoutes(handlers.Register))
}

func TestHandleStripeAcknowledgesProcessedEvent(t *testing.T) {
	verifier := &fakeVerifier{
		event: stripe.Event{
			ID:   "evt_1",
			Type: "checkout.session.completed",
			Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"cs_1","payment_status":"paid"}`)},
		},
	}
	service := &fakeReconcileService{
		outcome: services.ReconcileOutcome{OK: true, Reason: services.ReasonApplied, OrderID: "11111111-1111-1111-1111-111111111111"},
	}
	router := newWebhookRouter(t, verifier, service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var ack struct {
		OK      bool   `json:"ok"`
		Reason  string `json:"reason"`
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if !ack.OK || ack.Reason != services.ReasonApplied {
		t.Errorf("unexpected ack %+v", ack)
	}
	if verifier.gotSignature != "t=1,v1=abc" {
		t.Errorf("signature header not forwarded: %q", verifier.gotSignature)
	}
	if service.gotEvent.ID != "evt_1" || service.gotEvent.Kind != payments.EventKindSessionPaid {
		t.Errorf("event not parsed before dispatch: %+v", service.gotEvent)
	}
}

func TestHandleStripeRejectsInvalidSignature(t *testing.T) {
	verifier := &fakeVerifier{err: payments.ErrSignatureInvalid}
	service := &fakeReconcileService{}
	router := newWebhookRouter(t, verifier, service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "signature_invalid") {
		t.Errorf("expected signature_invalid code, got %s", rec.Body.String())
	}
	if service.calls != 0 {
		t.Error("service must not run on signature failure")
	}
}

func TestHandleStripeMapsUpdateFailureToServerError(t *testing.T) {
	verifier := &fakeVerifier{
		event: stripe.Event{ID: "evt_2", Type: "payment_intent.succeeded", Data: &stripe.EventData{Raw: json.RawMessage(`{}`)}},
	}
	service := &fakeReconcileService{
		outcome: services.ReconcileOutcome{OK: false, Reason: services.ReasonUpdateFailed},
		err:     context.DeadlineExceeded,
	}
	router := newWebhookRouter(t, verifier, service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandleStripeRejectsNonPost(t *testing.T) {
	router := newWebhookRouter(t, &fakeVerifier{}, &fakeReconcileService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
