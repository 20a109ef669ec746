package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fieldline/payments-api/internal/handlers"
	"github.com/fieldline/payments-api/internal/payments"
	"github.com/fieldline/payments-api/internal/platform/config"
	"github.com/fieldline/payments-api/internal/platform/jobs"
	"github.com/fieldline/payments-api/internal/platform/observability"
	"github.com/fieldline/payments-api/internal/platform/secrets"
	"github.com/fieldline/payments-api/internal/repositories/postgres"
	"github.com/fieldline/payments-api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("payments-api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		URL:      cfg.Database.URL,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		logger.Fatal("failed to initialise postgres pool", zap.Error(err))
	}
	defer pool.Close()

	ordersLogger := observability.EventLogger(logger.Named("orders"))
	orderRepo, err := postgres.NewOrderRepository(pool,
		postgres.WithOrderLogger(ordersLogger),
	)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	eventLogRepo, err := postgres.NewEventLogRepository(pool, ordersLogger)
	if err != nil {
		logger.Fatal("failed to initialise event log repository", zap.Error(err))
	}

	paymentsLogger := observability.EventLogger(logger.Named("payments"))
	retriever, err := payments.NewStripeRetriever(payments.StripeRetrieverConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: paymentsLogger,
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe retriever", zap.Error(err))
	}

	verifier, err := payments.NewWebhookVerifier(payments.WebhookVerifierConfig{
		Secrets:         cfg.PSP.StripeWebhookSecrets,
		AllowUnverified: cfg.Webhooks.AllowUnverified,
		Logger:          paymentsLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook verifier", zap.Error(err))
	}
	if cfg.Webhooks.AllowUnverified {
		logger.Warn("webhook signature verification is disabled; do not run this outside local development")
	}

	recompute, pubsubClient := newRecomputePublisher(ctx, logger, cfg)
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	reconcileService, err := services.NewReconcileService(services.ReconcileServiceDeps{
		Orders:          orderRepo,
		Events:          eventLogRepo,
		Retriever:       retriever,
		Recompute:       recompute,
		ConfirmAttempts: cfg.Reconcile.ConfirmAttempts,
		ConfirmDelay:    cfg.Reconcile.ConfirmDelay,
		Clock:           time.Now,
		Logger:          observability.EventLogger(logger.Named("reconcile")),
	})
	if err != nil {
		logger.Fatal("failed to initialise reconcile service", zap.Error(err))
	}

	webhookHandlers, err := handlers.NewWebhookHandlers(verifier, reconcileService)
	if err != nil {
		logger.Fatal("failed to initialise webhook handlers", zap.Error(err))
	}
	checkoutHandlers, err := handlers.NewCheckoutHandlers(reconcileService)
	if err != nil {
		logger.Fatal("failed to initialise checkout handlers", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.ReadinessCheck{Name: "database", Check: databaseCheck(pool)},
	)

	projectID := strings.TrimSpace(cfg.Jobs.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithWebhookRoutes(webhookHandlers.Register),
		handlers.WithCheckoutRoutes(checkoutHandlers.Register),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("payments api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	projectID := lookup("API_SECRET_PROJECT_ID")
	if projectID == "" {
		projectID = lookup("API_JOBS_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if projectID != "" {
		opts = append(opts, secrets.WithProject(projectID))
	}
	if fallbackPath != "" {
		opts = append(opts, secrets.WithFallbackFile(fallbackPath))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// newRecomputePublisher wires the optional Pub/Sub recompute trigger. A
// missing topic or project simply disables the trigger; reconciliation does
// not depend on it.
func newRecomputePublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.RecomputePublisher, *pubsub.Client) {
	projectID := strings.TrimSpace(cfg.Jobs.ProjectID)
	topicName := strings.TrimSpace(cfg.Jobs.RecomputeTopic)
	if projectID == "" || topicName == "" {
		logger.Info("recompute publisher disabled; no topic configured")
		return nil, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		logger.Warn("recompute publisher unavailable", zap.Error(err))
		return nil, nil
	}

	publisher, err := jobs.NewPubSubRecomputePublisher(client.Topic(topicName))
	if err != nil {
		logger.Warn("recompute publisher init failed", zap.Error(err))
		_ = client.Close()
		return nil, nil
	}
	return publisher, client
}

func databaseCheck(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
