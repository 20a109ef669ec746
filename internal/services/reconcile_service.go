package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldline/payments-api/internal/domain"
	"github.com/fieldline/payments-api/internal/payments"
	"github.com/fieldline/payments-api/internal/repositories"
)

const (
	defaultConfirmAttempts = 3
	defaultConfirmDelay    = 300 * time.Millisecond

	providerStripe = "stripe"

	recomputeReasonPayment = "payment_applied"
	recomputeReasonRefund  = "refund_applied"
)

// ReconcileServiceDeps enumerates the collaborators required to build the
// reconcile service.
type ReconcileServiceDeps struct {
	Orders repositories.OrderRepository
	// Events is optional; without it redelivery detection relies solely on
	// the order-level terminal check.
	Events repositories.EventLogRepository
	// Retriever is optional for the webhook path (used for metadata
	// enrichment) and required for the confirm-poll path.
	Retriever payments.Retriever
	// Recompute is optional; transitions publish best-effort recompute jobs
	// when it is set.
	Recompute RecomputePublisher

	ConfirmAttempts int
	ConfirmDelay    time.Duration

	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type reconcileService struct {
	orders    repositories.OrderRepository
	events    repositories.EventLogRepository
	retriever payments.Retriever
	recompute RecomputePublisher

	confirmAttempts int
	confirmDelay    time.Duration

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewReconcileService validates dependencies and builds the reconcile service.
func NewReconcileService(deps ReconcileServiceDeps) (ReconcileService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconcile service: order repository is required")
	}

	attempts := deps.ConfirmAttempts
	if attempts <= 0 {
		attempts = defaultConfirmAttempts
	}
	delay := deps.ConfirmDelay
	if delay <= 0 {
		delay = defaultConfirmDelay
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconcileService{
		orders:          deps.Orders,
		events:          deps.Events,
		retriever:       deps.Retriever,
		recompute:       deps.Recompute,
		confirmAttempts: attempts,
		confirmDelay:    delay,
		now: func() time.Time {
			return clock().UTC()
		},
		sleep:  sleep,
		logger: logger,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessEvent applies a verified webhook event to the order store.
func (s *reconcileService) ProcessEvent(ctx context.Context, event payments.WebhookEvent) (ReconcileOutcome, error) {
	if !s.recordEvent(ctx, event) {
		s.logger(ctx, "reconcile.event.duplicate", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
		})
		return ReconcileOutcome{OK: true, Reason: ReasonDuplicateEvent}, nil
	}

	switch event.Kind {
	case payments.EventKindSessionPaid:
		return s.processSession(ctx, event)
	case payments.EventKindIntentSucceeded:
		return s.processIntent(ctx, event)
	case payments.EventKindRefund:
		return s.processRefund(ctx, event)
	case payments.EventKindTerminalFailure:
		s.logger(ctx, "reconcile.event.terminal_failure", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
		})
		return ReconcileOutcome{OK: true, Reason: ReasonAcknowledged}, nil
	default:
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonIgnoredEventType}, nil
	}
}

// recordEvent inserts the event id into the idempotency log. Log failures are
// swallowed; losing duplicate suppression is safer than losing payments.
func (s *reconcileService) recordEvent(ctx context.Context, event payments.WebhookEvent) bool {
	if s.events == nil || event.ID == "" {
		return true
	}
	first, err := s.events.InsertIfAbsent(ctx, repositories.EventRecord{
		EventID:    event.ID,
		EventType:  event.Type,
		Payload:    event.Payload,
		ReceivedAt: s.now(),
	})
	if err != nil {
		s.logger(ctx, "reconcile.eventlog.unavailable", map[string]any{
			"eventId": event.ID,
			"error":   err.Error(),
		})
		return true
	}
	return first
}

func (s *reconcileService) processSession(ctx context.Context, event payments.WebhookEvent) (ReconcileOutcome, error) {
	if event.Session == nil {
		s.logger(ctx, "reconcile.event.undecodable", map[string]any{"eventId": event.ID, "eventType": event.Type})
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonIgnored}, nil
	}
	session := *event.Session
	if !session.Paid() {
		// Async payment methods complete the session before funds settle;
		// the async_payment_succeeded event follows later.
		s.logger(ctx, "reconcile.session.not_paid", map[string]any{
			"eventId":       event.ID,
			"sessionId":     session.ID,
			"paymentStatus": session.PaymentStatus,
		})
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonNotPaid}, nil
	}
	return s.applySessionPaid(ctx, session, "", event.ID)
}

// applySessionPaid runs resolver, metadata extraction and the paid transition
// for a settled checkout session. Shared by the webhook and confirm paths.
func (s *reconcileService) applySessionPaid(ctx context.Context, session payments.SessionDetails, hint, eventID string) (ReconcileOutcome, error) {
	intent := session.Intent
	if intent == nil && session.IntentID != "" && s.retriever != nil {
		if fetched, err := s.retriever.RetrieveIntent(ctx, session.IntentID); err == nil {
			intent = &fetched
		} else {
			// Enrichment only; the session already proves payment.
			s.logger(ctx, "reconcile.enrich.intent_failed", map[string]any{
				"sessionId":     session.ID,
				"paymentIntent": session.IntentID,
				"error":         err.Error(),
			})
		}
	}

	intentID := session.IntentID
	var metadata []map[string]string
	metadata = append(metadata, session.Metadata)
	if intent != nil {
		metadata = append(metadata, intent.Metadata)
		if intentID == "" {
			intentID = intent.ID
		}
	}

	orderID, err := s.resolveOrderID(ctx, resolveSources{
		Metadata:        metadata,
		ClientReference: session.ClientReferenceID,
		Hint:            hint,
		SessionID:       session.ID,
		IntentID:        intentID,
	})
	if err != nil {
		return ReconcileOutcome{OK: false, Reason: ReasonUpdateFailed}, err
	}
	if orderID == "" {
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonIgnored}, nil
	}

	amount := session.AmountTotal
	currency := session.Currency
	if intent != nil {
		if amount == 0 {
			amount = intent.Amount
		}
		if currency == "" {
			currency = intent.Currency
		}
	}

	session.Intent = intent
	summary := payments.SummarizeSession(session)
	return s.applyPaid(ctx, eventID, repositories.PaidUpdate{
		OrderID:            orderID,
		PaidAt:             s.now(),
		PaymentProvider:    providerStripe,
		PaymentIntentID:    intentID,
		ChargeID:           summary.ChargeID,
		CheckoutSessionID:  session.ID,
		PaymentMethodBrand: summary.Brand,
		PaymentLast4:       summary.Last4,
		TotalCents:         amount,
		Currency:           currency,
	})
}

func (s *reconcileService) processIntent(ctx context.Context, event payments.WebhookEvent) (ReconcileOutcome, error) {
	if event.Intent == nil {
		s.logger(ctx, "reconcile.event.undecodable", map[string]any{"eventId": event.ID, "eventType": event.Type})
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonIgnored}, nil
	}
	return s.applyIntentPaid(ctx, *event.Intent, "", event.ID)
}

// applyIntentPaid runs the paid transition for a succeeded payment intent.
func (s *reconcileService) applyIntentPaid(ctx context.Context, intent payments.IntentDetails, hint, eventID string) (ReconcileOutcome, error) {
	if !intent.Succeeded() {
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonNotPaid}, nil
	}

	if intent.Charge == nil && s.retriever != nil && intent.ID != "" {
		if fetched, err := s.retriever.RetrieveIntent(ctx, intent.ID); err == nil {
			if fetched.Charge != nil {
				intent.Charge = fetched.Charge
			}
			if len(intent.Metadata) == 0 {
				intent.Metadata = fetched.Metadata
			}
			if intent.MethodBrand == "" && intent.MethodLast4 == "" {
				intent.MethodBrand = fetched.MethodBrand
				intent.MethodLast4 = fetched.MethodLast4
			}
		} else {
			s.logger(ctx, "reconcile.enrich.charge_failed", map[string]any{
				"paymentIntent": intent.ID,
				"error":         err.Error(),
			})
		}
	}

	orderID, err := s.resolveOrderID(ctx, resolveSources{
		Metadata: []map[string]string{intent.Metadata},
		Hint:     hint,
		IntentID: intent.ID,
	})
	if err != nil {
		return ReconcileOutcome{OK: false, Reason: ReasonUpdateFailed}, err
	}
	if orderID == "" {
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonIgnored}, nil
	}

	summary := payments.SummarizeIntent(&intent)
	return s.applyPaid(ctx, eventID, repositories.PaidUpdate{
		OrderID:            orderID,
		PaidAt:             s.now(),
		PaymentProvider:    providerStripe,
		PaymentIntentID:    intent.ID,
		ChargeID:           summary.ChargeID,
		PaymentMethodBrand: summary.Brand,
		PaymentLast4:       summary.Last4,
		TotalCents:         intent.Amount,
		Currency:           intent.Currency,
	})
}

func (s *reconcileService) processRefund(ctx context.Context, event payments.WebhookEvent) (ReconcileOutcome, error) {
	refund := event.Refund
	if refund == nil {
		s.logger(ctx, "reconcile.event.undecodable", map[string]any{"eventId": event.ID, "eventType": event.Type})
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonIgnored}, nil
	}
	if refund.Status != "" && refund.Status != "succeeded" {
		// refund.created can arrive in pending state; wait for the update.
		return ReconcileOutcome{OK: true, Reason: ReasonAcknowledged}, nil
	}
	if event.Charge != nil && !event.Charge.Refunded {
		// charge.refunded also fires for partial refunds; only a fully
		// refunded charge flips the order state.
		s.logger(ctx, "reconcile.refund.partial", map[string]any{
			"eventId":        event.ID,
			"chargeId":       event.Charge.ID,
			"amountRefunded": event.Charge.AmountRefunded,
		})
		return ReconcileOutcome{OK: true, Reason: ReasonAcknowledged}, nil
	}

	metadata := []map[string]string{refund.Metadata}
	if orderIDFromMetadata(refund.Metadata) == "" && refund.IntentID != "" && s.retriever != nil {
		if intent, err := s.retriever.RetrieveIntent(ctx, refund.IntentID); err == nil {
			metadata = append(metadata, intent.Metadata)
		} else {
			s.logger(ctx, "reconcile.enrich.intent_failed", map[string]any{
				"paymentIntent": refund.IntentID,
				"error":         err.Error(),
			})
		}
	}

	orderID, err := s.resolveOrderID(ctx, resolveSources{
		Metadata: metadata,
		IntentID: refund.IntentID,
	})
	if err != nil {
		return ReconcileOutcome{OK: false, Reason: ReasonUpdateFailed}, err
	}
	if orderID == "" {
		return ReconcileOutcome{OK: true, Ignored: true, Reason: ReasonIgnored}, nil
	}

	order, err := s.orders.GetPaymentState(ctx, orderID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		s.logger(ctx, "reconcile.order.not_found", map[string]any{"orderId": orderID, "eventId": event.ID})
		return ReconcileOutcome{OK: true, Reason: ReasonNotFound, OrderID: orderID}, nil
	case err != nil:
		return ReconcileOutcome{OK: false, Reason: ReasonUpdateFailed, OrderID: orderID}, fmt.Errorf("reconcile: read order: %w", err)
	}
	// Unlike the paid path, a paid order is exactly what a refund expects to
	// find. Only refunded and canceled block the write.
	if order.Status == domain.OrderStatusRefunded || order.Status == domain.OrderStatusCanceled {
		return ReconcileOutcome{OK: true, Reason: ReasonAlreadyTerminal, OrderID: orderID}, nil
	}

	err = s.orders.ApplyRefundTransition(ctx, repositories.RefundUpdate{
		OrderID:    orderID,
		RefundedAt: s.now(),
		ChargeID:   refund.ChargeID,
	})
	switch {
	case errors.Is(err, repositories.ErrConflict):
		return ReconcileOutcome{OK: true, Reason: ReasonAlreadyTerminal, OrderID: orderID}, nil
	case errors.Is(err, repositories.ErrNotFound):
		return ReconcileOutcome{OK: true, Reason: ReasonNotFound, OrderID: orderID}, nil
	case err != nil:
		s.logger(ctx, "reconcile.transition.failed", map[string]any{
			"orderId": orderID,
			"eventId": event.ID,
			"error":   err.Error(),
		})
		return ReconcileOutcome{OK: false, Reason: ReasonUpdateFailed, OrderID: orderID}, fmt.Errorf("reconcile: apply refund transition: %w", err)
	}

	s.logger(ctx, "reconcile.transition.refunded", map[string]any{
		"orderId":  orderID,
		"eventId":  event.ID,
		"chargeId": refund.ChargeID,
		"amount":   refund.Amount,
	})
	s.publishRecompute(ctx, orderID, recomputeReasonRefund, event.ID)
	return ReconcileOutcome{OK: true, Reason: ReasonApplied, OrderID: orderID}, nil
}

// applyPaid performs the guarded read-then-conditional-write for the paid
// transition and triggers the best-effort recompute.
func (s *reconcileService) applyPaid(ctx context.Context, eventID string, update repositories.PaidUpdate) (ReconcileOutcome, error) {
	order, err := s.orders.GetPaymentState(ctx, update.OrderID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		s.logger(ctx, "reconcile.order.not_found", map[string]any{"orderId": update.OrderID, "eventId": eventID})
		return ReconcileOutcome{OK: true, Reason: ReasonNotFound, OrderID: update.OrderID}, nil
	case err != nil:
		return ReconcileOutcome{OK: false, Reason: ReasonUpdateFailed, OrderID: update.OrderID}, fmt.Errorf("reconcile: read order: %w", err)
	}
	if order.Terminal() {
		return ReconcileOutcome{OK: true, Reason: ReasonAlreadyTerminal, OrderID: update.OrderID}, nil
	}

	err = s.orders.ApplyPaidTransition(ctx, update)
	switch {
	case errors.Is(err, repositories.ErrConflict):
		// Lost the race against another delivery; the other writer won.
		return ReconcileOutcome{OK: true, Reason: ReasonAlreadyTerminal, OrderID: update.OrderID}, nil
	case errors.Is(err, repositories.ErrNotFound):
		return ReconcileOutcome{OK: true, Reason: ReasonNotFound, OrderID: update.OrderID}, nil
	case err != nil:
		s.logger(ctx, "reconcile.transition.failed", map[string]any{
			"orderId": update.OrderID,
			"eventId": eventID,
			"error":   err.Error(),
		})
		return ReconcileOutcome{OK: false, Reason: ReasonUpdateFailed, OrderID: update.OrderID}, fmt.Errorf("reconcile: apply paid transition: %w", err)
	}

	s.logger(ctx, "reconcile.transition.paid", map[string]any{
		"orderId":  update.OrderID,
		"eventId":  eventID,
		"chargeId": update.ChargeID,
	})
	s.publishRecompute(ctx, update.OrderID, recomputeReasonPayment, eventID)
	return ReconcileOutcome{OK: true, Reason: ReasonApplied, OrderID: update.OrderID}, nil
}

func (s *reconcileService) publishRecompute(ctx context.Context, orderID, reason, eventID string) {
	if s.recompute == nil {
		return
	}
	if _, err := s.recompute.PublishRecomputeJob(ctx, RecomputeJobMessage{
		OrderID:  orderID,
		Reason:   reason,
		EventID:  eventID,
		QueuedAt: s.now(),
	}); err != nil {
		s.logger(ctx, "reconcile.recompute.publish_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

type resolveSources struct {
	Metadata        []map[string]string
	ClientReference string
	Hint            string
	SessionID       string
	IntentID        string
}

// resolveOrderID walks the priority-ordered identity sources. The first
// non-empty candidate must be a valid UUID; an invalid one drops the event
// instead of falling through to weaker sources.
func (s *reconcileService) resolveOrderID(ctx context.Context, src resolveSources) (string, error) {
	candidate := ""
	for _, meta := range src.Metadata {
		if v := orderIDFromMetadata(meta); v != "" {
			candidate = v
			break
		}
	}
	if candidate == "" {
		candidate = strings.TrimSpace(src.ClientReference)
	}
	if candidate == "" {
		candidate = strings.TrimSpace(src.Hint)
	}
	if candidate != "" {
		if !domain.ValidOrderID(candidate) {
			s.logger(ctx, "reconcile.resolver.invalid_order_id", map[string]any{"candidate": candidate})
			return "", nil
		}
		return candidate, nil
	}

	if src.SessionID != "" {
		id, err := s.orders.FindIDBySessionID(ctx, src.SessionID)
		switch {
		case err == nil:
			candidate = id
		case !errors.Is(err, repositories.ErrNotFound):
			return "", fmt.Errorf("reconcile: reverse lookup by session: %w", err)
		}
	}
	if candidate == "" && src.IntentID != "" {
		id, err := s.orders.FindIDByIntentID(ctx, src.IntentID)
		switch {
		case err == nil:
			candidate = id
		case !errors.Is(err, repositories.ErrNotFound):
			return "", fmt.Errorf("reconcile: reverse lookup by intent: %w", err)
		}
	}
	if candidate == "" || !domain.ValidOrderID(candidate) {
		return "", nil
	}
	return candidate, nil
}

func orderIDFromMetadata(meta map[string]string) string {
	if meta == nil {
		return ""
	}
	if v := strings.TrimSpace(meta["order_id"]); v != "" {
		return v
	}
	return strings.TrimSpace(meta["orderId"])
}

// ConfirmCheckout retrieves the live provider state and applies the same
// reconciliation as the webhook path, polling briefly while the asynchronous
// confirmation may still be in flight.
func (s *reconcileService) ConfirmCheckout(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	intentID := strings.TrimSpace(req.IntentID)
	if sessionID == "" && intentID == "" {
		return ConfirmResult{}, ErrMissingIdentifier
	}
	if s.retriever == nil {
		return ConfirmResult{}, errors.New("reconcile: payment retriever is not configured")
	}

	last := ConfirmResult{OK: true, Paid: false, Reason: ReasonNotPaid}
	for attempt := 1; attempt <= s.confirmAttempts; attempt++ {
		result, done, err := s.confirmOnce(ctx, sessionID, intentID, strings.TrimSpace(req.OrderHint))
		if errors.Is(err, payments.ErrNotFound) {
			// Unknown id on the provider side; retrying cannot change that.
			return ConfirmResult{OK: false, Paid: false, Reason: ReasonNotFound}, nil
		}
		if err != nil {
			s.logger(ctx, "reconcile.confirm.retrieval_failed", map[string]any{
				"sessionId":     sessionID,
				"paymentIntent": intentID,
				"attempt":       attempt,
				"error":         err.Error(),
			})
			last = ConfirmResult{OK: false, Paid: false, Reason: "provider_unavailable"}
		} else {
			if done {
				return result, nil
			}
			last = result
		}
		if attempt < s.confirmAttempts {
			if err := s.sleep(ctx, s.confirmDelay); err != nil {
				return last, nil
			}
		}
	}
	return last, nil
}

func (s *reconcileService) confirmOnce(ctx context.Context, sessionID, intentID, hint string) (ConfirmResult, bool, error) {
	if sessionID != "" {
		session, err := s.retriever.RetrieveSession(ctx, sessionID)
		if err != nil {
			return ConfirmResult{}, false, err
		}
		result := ConfirmResult{OK: true, Status: session.Status, PaymentStatus: session.PaymentStatus}
		if !session.Paid() {
			result.Reason = ReasonNotPaid
			return result, false, nil
		}
		outcome, applyErr := s.applySessionPaid(ctx, session, hint, "")
		return confirmResultFrom(result, outcome, applyErr), true, nil
	}

	intent, err := s.retriever.RetrieveIntent(ctx, intentID)
	if err != nil {
		return ConfirmResult{}, false, err
	}
	result := ConfirmResult{OK: true, Status: intent.Status}
	if !intent.Succeeded() {
		result.Reason = ReasonNotPaid
		return result, false, nil
	}
	outcome, applyErr := s.applyIntentPaid(ctx, intent, hint, "")
	return confirmResultFrom(result, outcome, applyErr), true, nil
}

// confirmResultFrom folds a transition outcome into the client-facing result.
// Store failures surface as ok:false without an HTTP error; the client should
// not retry in a loop just because the write lost.
func confirmResultFrom(base ConfirmResult, outcome ReconcileOutcome, err error) ConfirmResult {
	base.Paid = true
	base.OrderID = outcome.OrderID
	base.Reason = outcome.Reason
	base.OK = err == nil
	return base
}
