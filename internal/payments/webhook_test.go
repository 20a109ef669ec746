package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func signPayload(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

const sampleEvent = `{"id":"evt_123","object":"event","api_version":"2024-06-20","type":"checkout.session.completed","data":{"object":{"id":"cs_123","object":"checkout.session"}}}`

func TestVerifyAcceptsCurrentSecret(t *testing.T) {
	verifier, err := NewWebhookVerifier(WebhookVerifierConfig{Secrets: []string{"whsec_current"}})
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}

	payload := []byte(sampleEvent)
	header := signPayload(t, payload, "whsec_current", time.Now())

	event, err := verifier.Verify(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if event.ID != "evt_123" {
		t.Errorf("unexpected event id %q", event.ID)
	}
	if string(event.Type) != "checkout.session.completed" {
		t.Errorf("unexpected event type %q", event.Type)
	}
}

func TestVerifyTriesRotatedSecrets(t *testing.T) {
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}

	verifier, err := NewWebhookVerifier(WebhookVerifierConfig{
		Secrets: []string{"whsec_current", "whsec_previous"},
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}

	payload := []byte(sampleEvent)
	header := signPayload(t, payload, "whsec_previous", time.Now())

	event, err := verifier.Verify(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("Verify with rotated secret: %v", err)
	}
	if event.ID != "evt_123" {
		t.Errorf("unexpected event id %q", event.ID)
	}

	found := false
	for _, name := range events {
		if name == "payments.stripe.webhook.rotated_secret_matched" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected rotated secret log event, got %v", events)
	}
}

func TestVerifyRejectsUnknownSignature(t *testing.T) {
	verifier, err := NewWebhookVerifier(WebhookVerifierConfig{Secrets: []string{"whsec_current"}})
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}

	payload := []byte(sampleEvent)
	header := signPayload(t, payload, "whsec_attacker", time.Now())

	if _, err := verifier.Verify(context.Background(), payload, header); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	verifier, err := NewWebhookVerifier(WebhookVerifierConfig{Secrets: []string{"whsec_current"}})
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}

	payload := []byte(sampleEvent)
	header := signPayload(t, payload, "whsec_current", time.Now().Add(-time.Hour))

	if _, err := verifier.Verify(context.Background(), payload, header); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for stale timestamp, got %v", err)
	}
}

func TestVerifyAllowUnverifiedFallsBackToParse(t *testing.T) {
	verifier, err := NewWebhookVerifier(WebhookVerifierConfig{AllowUnverified: true})
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}

	event, err := verifier.Verify(context.Background(), []byte(sampleEvent), "")
	if err != nil {
		t.Fatalf("Verify unverified: %v", err)
	}
	if event.ID != "evt_123" {
		t.Errorf("unexpected event id %q", event.ID)
	}

	if _, err := verifier.Verify(context.Background(), []byte("{not json"), ""); err == nil {
		t.Fatal("expected parse error for malformed unverified payload")
	}
}

func TestNewWebhookVerifierRequiresSecrets(t *testing.T) {
	if _, err := NewWebhookVerifier(WebhookVerifierConfig{Secrets: []string{"  "}}); err == nil {
		t.Fatal("expected error when no usable secret configured")
	}
}
