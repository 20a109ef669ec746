package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrSignatureInvalid is returned when no configured secret validates the
// webhook signature.
var ErrSignatureInvalid = errors.New("payments: webhook signature invalid")

// WebhookVerifierConfig configures signature verification for incoming PSP events.
type WebhookVerifierConfig struct {
	// Secrets are tried in order; the first one that validates wins. Multiple
	// entries support endpoint secret rotation without a deploy gap.
	Secrets []string
	// AllowUnverified skips verification when no secret matches. Local
	// development only; never enable in deployed environments.
	AllowUnverified bool
	Logger          StripeLogger
}

// WebhookVerifier authenticates Stripe webhook payloads.
type WebhookVerifier struct {
	secrets         []string
	allowUnverified bool
	logger          StripeLogger
}

// NewWebhookVerifier builds a verifier over the configured endpoint secrets.
func NewWebhookVerifier(cfg WebhookVerifierConfig) (*WebhookVerifier, error) {
	secrets := make([]string, 0, len(cfg.Secrets))
	for _, secret := range cfg.Secrets {
		if trimmed := strings.TrimSpace(secret); trimmed != "" {
			secrets = append(secrets, trimmed)
		}
	}
	if len(secrets) == 0 && !cfg.AllowUnverified {
		return nil, errors.New("payments: at least one webhook secret is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &WebhookVerifier{
		secrets:         secrets,
		allowUnverified: cfg.AllowUnverified,
		logger:          logger,
	}, nil
}

// Verify validates the signature header against each configured secret and
// returns the parsed event. API version mismatches between the sending
// account and this library are tolerated; the payload layout we consume is
// stable across the versions in play.
func (v *WebhookVerifier) Verify(ctx context.Context, payload []byte, signature string) (stripe.Event, error) {
	if v == nil {
		return stripe.Event{}, errors.New("payments: verifier is nil")
	}

	var lastErr error
	for i, secret := range v.secrets {
		event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err == nil {
			if i > 0 {
				v.logger(ctx, "payments.stripe.webhook.rotated_secret_matched", map[string]any{
					"secretIndex": i,
					"eventId":     event.ID,
				})
			}
			return event, nil
		}
		lastErr = err
	}

	if v.allowUnverified {
		v.logger(ctx, "payments.stripe.webhook.unverified_accepted", map[string]any{
			"reason": errString(lastErr),
		})
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return stripe.Event{}, fmt.Errorf("payments: parse unverified event: %w", err)
		}
		return event, nil
	}

	if lastErr != nil {
		return stripe.Event{}, fmt.Errorf("%w: %s", ErrSignatureInvalid, lastErr)
	}
	return stripe.Event{}, ErrSignatureInvalid
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
