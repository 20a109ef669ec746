package services

import (
	"context"
	"errors"
	"time"

	"github.com/fieldline/payments-api/internal/payments"
)

// Reason codes returned in reconciliation acknowledgments.
const (
	// ReasonApplied means the order transitioned as a result of this event.
	ReasonApplied = "applied"
	// ReasonDuplicateEvent means the event id was already processed.
	ReasonDuplicateEvent = "duplicate_event"
	// ReasonIgnored means no valid order could be resolved for the event.
	ReasonIgnored = "ignored"
	// ReasonIgnoredEventType means the event type is not handled.
	ReasonIgnoredEventType = "ignored_event_type"
	// ReasonAcknowledged means the event was logged with no state change.
	ReasonAcknowledged = "acknowledged"
	// ReasonNotFound means the resolved order does not exist yet.
	ReasonNotFound = "not_found"
	// ReasonAlreadyTerminal means the order already reached a terminal state.
	ReasonAlreadyTerminal = "already_terminal"
	// ReasonUpdateFailed means the store rejected or failed the write.
	ReasonUpdateFailed = "update_failed"
	// ReasonNotPaid means the PSP does not report the payment settled yet.
	ReasonNotPaid = "not_paid"
)

// ErrMissingIdentifier is returned when a confirm request carries neither a
// session nor an intent identifier.
var ErrMissingIdentifier = errors.New("reconcile: session or intent identifier is required")

// ReconcileOutcome is the structured acknowledgment for a processed event.
type ReconcileOutcome struct {
	OK      bool
	Ignored bool
	Reason  string
	OrderID string
}

// ConfirmRequest carries the identifiers for a synchronous confirm poll.
type ConfirmRequest struct {
	SessionID string
	IntentID  string
	OrderHint string
}

// ConfirmResult echoes the reconciliation decision back to a polling client.
type ConfirmResult struct {
	OK            bool   `json:"ok"`
	Paid          bool   `json:"paid"`
	OrderID       string `json:"orderId,omitempty"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ReconcileService reconciles PSP payment events against the order store.
type ReconcileService interface {
	// ProcessEvent applies a verified webhook event. A non-nil error means
	// the mutation could not be completed safely and the provider should
	// redeliver; every "does not apply" outcome returns a nil error.
	ProcessEvent(ctx context.Context, event payments.WebhookEvent) (ReconcileOutcome, error)
	// ConfirmCheckout runs the synchronous confirm-poll flow.
	ConfirmCheckout(ctx context.Context, req ConfirmRequest) (ConfirmResult, error)
}

// RecomputeJobMessage is the payload published to the order recompute topic
// after a successful transition.
type RecomputeJobMessage struct {
	JobID    string    `json:"jobId"`
	OrderID  string    `json:"orderId"`
	Reason   string    `json:"reason"`
	EventID  string    `json:"eventId,omitempty"`
	QueuedAt time.Time `json:"queuedAt"`
}

// RecomputePublisher enqueues order recompute jobs. Publishing is best effort;
// callers log failures and move on.
type RecomputePublisher interface {
	PublishRecomputeJob(ctx context.Context, message RecomputeJobMessage) (string, error)
}
