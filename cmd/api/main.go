package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/marketplace/internal/di"
	"github.com/hanko-field/marketplace/internal/handlers"
	"github.com/hanko-field/marketplace/internal/payments"
	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/config"
	pfirestore "github.com/hanko-field/marketplace/internal/platform/firestore"
	"github.com/hanko-field/marketplace/internal/platform/idempotency"
	"github.com/hanko-field/marketplace/internal/platform/jobs"
	"github.com/hanko-field/marketplace/internal/platform/observability"
	"github.com/hanko-field/marketplace/internal/platform/secrets"
	platformstorage "github.com/hanko-field/marketplace/internal/platform/storage"
	"github.com/hanko-field/marketplace/internal/platform/validation"
	firestoreRepo "github.com/hanko-field/marketplace/internal/repositories/firestore"
)

// idempotencyBackend is satisfied by every idempotency store; the same backend dedupes webhooks.
type idempotencyBackend interface {
	idempotency.Store
	idempotency.EventLedger
}

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, os.Getenv)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(os.Getenv, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, pfirestore.WithTxObserver(logContendedTx(logger.Named("firestore"))))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{di.WithLogger(baseLogger)}
	collab := di.Collaborators{}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	orderTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	orderTopic.EnableMessageOrdering = true
	notificationTopic := pubsubClient.Topic(cfg.PubSub.NotificationTopic)
	containerOpts = append(containerOpts, di.WithCloser(func(context.Context) error {
		orderTopic.Stop()
		notificationTopic.Stop()
		return pubsubClient.Close()
	}))
	if collab.OrderEvents, err = jobs.NewPubSubOrderEventPublisher(orderTopic); err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	if collab.Notifier, err = jobs.NewPubSubPaymentNotifier(notificationTopic); err != nil {
		logger.Fatal("failed to initialise payment notifier", zap.Error(err))
	}

	if bucket := strings.TrimSpace(cfg.Storage.AssetsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithCloser(func(context.Context) error {
			return storageClient.Close()
		}))
		uploader, err := platformstorage.NewGCSUploader(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise storage uploader", zap.Error(err))
		}
		assets, err := platformstorage.NewAssetStore(uploader, platformstorage.AssetStoreConfig{
			Bucket:        bucket,
			PublicBaseURL: strings.TrimRight(cfg.Storage.PublicHost, "/") + "/" + bucket,
		})
		if err != nil {
			logger.Fatal("failed to initialise asset store", zap.Error(err))
		}
		collab.Assets = assets
	} else {
		logger.Warn("storage: assets bucket not configured; order item images are disabled")
	}

	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Logger:        observability.EventLogger(baseLogger.Named("stripe")),
			Clock:         time.Now,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
		}
		collab.Provider = stripeProvider
	} else {
		logger.Warn("payments: stripe api key not configured; card checkout is disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, append(containerOpts, di.WithCollaborators(collab))...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	store, storeCheck, closeStore := newIdempotencyBackend(cfg, firestoreClient, logger)
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("idempotency store close error", zap.Error(err))
		}
	}()
	idempotencyMiddleware := idempotency.Middleware(
		store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, store, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))
	validator, err := validation.New()
	if err != nil {
		logger.Fatal("failed to compile request schemas", zap.Error(err))
	}

	svc := container.Services
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart, validator, cfg.Pricing.Currency)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, validator,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments, validator,
		handlers.WithPaymentIdempotency(idempotencyMiddleware),
	)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Payments, validator)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments, store)
	internalHandlers := handlers.NewInternalHandlers(svc.Orders)

	checks := []handlers.DependencyCheck{
		{Name: "firestore", Check: container.Repositories.Ping},
	}
	if storeCheck != nil {
		checks = append(checks, *storeCheck)
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithDependencyChecks(checks...),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("marketplace api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newIdempotencyBackend prefers Redis when an address is configured and falls back to Firestore.
// The returned check is non-nil when the backend needs its own readiness probe.
func newIdempotencyBackend(cfg config.Config, client *firestore.Client, logger *zap.Logger) (idempotencyBackend, *handlers.DependencyCheck, func() error) {
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient := idempotency.NewRedisClient(addr, cfg.Redis.Password, cfg.Redis.DB)
		logger.Info("idempotency: using redis store", zap.String("addr", addr))
		check := &handlers.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		}
		return idempotency.NewRedisStore(redisClient), check, redisClient.Close
	}
	return idempotency.NewFirestoreStore(client), nil, func() error { return nil }
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, interval time.Duration, batch int, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), batch)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func buildInfoFromEnv(getenv func(string) string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, getenv func(string) string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallbackPath),
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// logContendedTx warns when a transaction needed more than one attempt.
func logContendedTx(logger *zap.Logger) func(context.Context, pfirestore.TxStats) {
	return func(_ context.Context, stats pfirestore.TxStats) {
		if stats.Attempts <= 1 {
			return
		}
		logger.Warn("firestore transaction contended",
			zap.Int("attempts", stats.Attempts),
			zap.Duration("elapsed", stats.Elapsed),
			zap.Error(stats.Err),
		)
	}
}
