package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/payments-api/internal/platform/httpx"
	"github.com/fieldline/payments-api/internal/services"
)

const maxConfirmBody = 64 << 10

// CheckoutHandlers serves the synchronous checkout confirmation endpoint.
type CheckoutHandlers struct {
	service services.ReconcileService
}

// NewCheckoutHandlers validates dependencies and builds the checkout handlers.
func NewCheckoutHandlers(service services.ReconcileService) (*CheckoutHandlers, error) {
	if service == nil {
		return nil, errors.New("checkout handlers: reconcile service is required")
	}
	return &CheckoutHandlers{service: service}, nil
}

// Register mounts the checkout routes on the given router group.
func (h *CheckoutHandlers) Register(r chi.Router) {
	r.Get("/confirm", h.Confirm)
	r.Post("/confirm", h.Confirm)
}

type confirmPayload struct {
	SessionID      string `json:"sessionId"`
	SessionIDSnake string `json:"session_id"`
	IntentID       string `json:"paymentIntentId"`
	IntentIDSnake  string `json:"payment_intent_id"`
	OrderHint      string `json:"orderId"`
	OrderHintSnake string `json:"order_id"`
}

// Confirm polls the PSP for the current payment state and applies the same
// reconciliation as the webhook path. Identifiers come from the query string
// or, for POST, a JSON body; query values win when both are present.
func (h *CheckoutHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := services.ConfirmRequest{
		SessionID: strings.TrimSpace(r.URL.Query().Get("session_id")),
		IntentID:  strings.TrimSpace(r.URL.Query().Get("payment_intent_id")),
		OrderHint: strings.TrimSpace(r.URL.Query().Get("order_id")),
	}

	if r.Method == http.MethodPost && r.Body != nil {
		var body confirmPayload
		data, err := io.ReadAll(io.LimitReader(r.Body, maxConfirmBody))
		if err == nil && len(data) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body is not valid JSON", http.StatusBadRequest))
				return
			}
			if req.SessionID == "" {
				req.SessionID = firstNonEmpty(body.SessionID, body.SessionIDSnake)
			}
			if req.IntentID == "" {
				req.IntentID = firstNonEmpty(body.IntentID, body.IntentIDSnake)
			}
			if req.OrderHint == "" {
				req.OrderHint = firstNonEmpty(body.OrderHint, body.OrderHintSnake)
			}
		}
	}

	result, err := h.service.ConfirmCheckout(ctx, req)
	if err != nil {
		if errors.Is(err, services.ErrMissingIdentifier) {
			httpx.WriteError(ctx, w, httpx.NewError("missing_identifier", "session_id or payment_intent_id is required", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal", "confirmation could not be completed", http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
