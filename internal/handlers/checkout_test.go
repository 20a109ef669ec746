package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fieldline/payments-api/internal/services"
)

func newCheckoutRouter(t *testing.T, service services.ReconcileService) http.Handler {
	t.Helper()
	handlers, err := NewCheckoutHandlers(service)
	if err != nil {
		t.Fatalf("NewCheckoutHandlers: %v", err)
	}
	return NewRouter(WithCheckoutRoutes(handlers.Register))
}

func TestConfirmViaQueryString(t *testing.T) {
	service := &fakeReconcileService{
		confirmResult: services.ConfirmResult{OK: true, Paid: true, OrderID: "11111111-1111-1111-1111-111111111111", Reason: services.ReasonApplied},
	}
	router := newCheckoutRouter(t, service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/confirm?session_id=cs_1&order_id=11111111-1111-1111-1111-111111111111", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if service.gotConfirm.SessionID != "cs_1" {
		t.Errorf("session id not forwarded: %+v", service.gotConfirm)
	}
	if service.gotConfirm.OrderHint != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("order hint not forwarded: %+v", service.gotConfirm)
	}

	var result services.ConfirmResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Paid || result.OrderID == "" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestConfirmViaJSONBody(t *testing.T) {
	service := &fakeReconcileService{
		confirmResult: services.ConfirmResult{OK: true, Paid: false, Reason: services.ReasonNotPaid},
	}
	router := newCheckoutRouter(t, service)

	body := `{"payment_intent_id": "pi_7", "order_id": "22222222-2222-2222-2222-222222222222"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if service.gotConfirm.IntentID != "pi_7" || service.gotConfirm.OrderHint != "22222222-2222-2222-2222-222222222222" {
		t.Errorf("body fields not forwarded: %+v", service.gotConfirm)
	}
}

func TestConfirmMissingIdentifierIsBadRequest(t *testing.T) {
	service := &fakeReconcileService{confirmErr: services.ErrMissingIdentifier}
	router := newCheckoutRouter(t, service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/confirm", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "missing_identifier") {
		t.Errorf("expected missing_identifier code, got %s", rec.Body.String())
	}
}

func TestConfirmMalformedBodyIsBadRequest(t *testing.T) {
	service := &fakeReconcileService{}
	router := newCheckoutRouter(t, service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Error("service must not run for malformed body")
	}
}
