package config

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_URL": "postgres://localhost:5432/orders",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.MaxConns != defaultDatabaseMaxConns {
		t.Errorf("unexpected default max conns: %d", cfg.Database.MaxConns)
	}
	if cfg.Webhooks.AllowUnverified {
		t.Error("AllowUnverified must default to false")
	}
	if cfg.Reconcile.ConfirmAttempts != defaultConfirmAttempts {
		t.Errorf("unexpected confirm attempts: %d", cfg.Reconcile.ConfirmAttempts)
	}
	if cfg.Reconcile.ConfirmDelay != defaultConfirmDelay {
		t.Errorf("unexpected confirm delay: %s", cfg.Reconcile.ConfirmDelay)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                 "9090",
		"API_SERVER_READ_TIMEOUT":         "20s",
		"API_DATABASE_URL":                "postgres://db.internal:5432/orders",
		"API_DATABASE_MAX_CONNS":          "16",
		"API_PSP_STRIPE_API_KEY":          "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRETS":  "secret://stripe/webhook-current, secret://stripe/webhook-previous",
		"API_WEBHOOKS_ALLOW_UNVERIFIED":   "true",
		"API_JOBS_PROJECT_ID":             "fl-prod",
		"API_JOBS_RECOMPUTE_TOPIC":        "order-recompute",
		"API_RECONCILE_CONFIRM_ATTEMPTS":  "5",
		"API_RECONCILE_CONFIRM_DELAY":     "450ms",
		"API_SECURITY_ENVIRONMENT":        "PROD",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "secret://stripe/api":
			return "sk_live_123", nil
		case "secret://stripe/webhook-current":
			return "whsec_current", nil
		case "secret://stripe/webhook-previous":
			return "whsec_previous", nil
		}
		return "", fmt.Errorf("unexpected ref %s", ref)
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.MaxConns != 16 {
		t.Errorf("unexpected max conns: %d", cfg.Database.MaxConns)
	}
	if cfg.PSP.StripeAPIKey != "sk_live_123" {
		t.Errorf("stripe api key not resolved: %q", cfg.PSP.StripeAPIKey)
	}
	if len(cfg.PSP.StripeWebhookSecrets) != 2 {
		t.Fatalf("expected 2 webhook secrets, got %d", len(cfg.PSP.StripeWebhookSecrets))
	}
	if cfg.PSP.StripeWebhookSecrets[0] != "whsec_current" || cfg.PSP.StripeWebhookSecrets[1] != "whsec_previous" {
		t.Errorf("webhook secrets out of order: %v", cfg.PSP.StripeWebhookSecrets)
	}
	if !cfg.Webhooks.AllowUnverified {
		t.Error("expected AllowUnverified override")
	}
	if cfg.Reconcile.ConfirmAttempts != 5 || cfg.Reconcile.ConfirmDelay != 450*time.Millisecond {
		t.Errorf("unexpected reconcile tunables: %d %s", cfg.Reconcile.ConfirmAttempts, cfg.Reconcile.ConfirmDelay)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lowered environment, got %s", cfg.Security.Environment)
	}
}

func TestLoadScalarWebhookSecretFallback(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_URL":              "postgres://localhost/orders",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "whsec_only",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.PSP.StripeWebhookSecrets) != 1 || cfg.PSP.StripeWebhookSecrets[0] != "whsec_only" {
		t.Fatalf("scalar secret not promoted to list: %v", cfg.PSP.StripeWebhookSecrets)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	found := false
	for _, field := range validation.Fields() {
		if field == "Database.URL" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Database.URL in %v", validation.Fields())
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_URL":       "postgres://localhost/orders",
		"API_PSP_STRIPE_API_KEY": "sm://stripe/api",
	}

	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Errorf("sm:// ref not normalised: %s", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_URL": "postgres://localhost/orders",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if len(missing.RedactedNames()) != 1 {
		t.Errorf("unexpected redacted names: %v", missing.RedactedNames())
	}
}
