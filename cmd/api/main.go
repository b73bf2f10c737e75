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

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shopfront/api/internal/di"
	"github.com/shopfront/api/internal/handlers"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/platform/config"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/platform/idempotency"
	"github.com/shopfront/api/internal/platform/jobs"
	"github.com/shopfront/api/internal/platform/observability"
	"github.com/shopfront/api/internal/platform/realtime"
	"github.com/shopfront/api/internal/platform/secrets"
	"github.com/shopfront/api/internal/repositories"
	firestoreRepo "github.com/shopfront/api/internal/repositories/firestore"
	"github.com/shopfront/api/internal/services"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = ""
	commit  = ""
)

const statusKeyTTL = 24 * time.Hour

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

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
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("required secrets missing", zap.Error(err))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreOpts := []pfirestore.ProviderOption{}
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)

	// Redis and Pub/Sub only carry best-effort status notifications, so either may be absent.
	var publishers []services.StatusPublisher

	redisPublisher := newRedisPublisher(cfg, logger)
	if redisPublisher != nil {
		publishers = append(publishers, redisPublisher)
	}

	pubsubClient, pubsubTopic, pubsubPublisher := newPubSubPublisher(ctx, cfg, logger)
	if pubsubPublisher != nil {
		publishers = append(publishers, pubsubPublisher)
	}

	healthRepo, err := newHealthRepository(firestoreProvider, redisPublisher, pubsubTopic, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	stripeProvider := newStripeProvider(cfg, logger)

	infra := di.Infrastructure{
		Publishers: publishers,
		Logger:     logger,
		Meter:      observability.Meter(nil),
		Build:      buildInfo,
	}
	if stripeProvider != nil {
		infra.Payments = stripeProvider
	}
	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore, idempotency.Options{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
	})

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Checkout, svc.Orders,
		handlers.WithOrderAuditTrail(svc.Audit),
		handlers.WithCheckoutIdempotency(cfg.Idempotency.Header, idempotencyMiddleware),
		handlers.WithCheckoutRateLimit(cfg.Orders.CheckoutRateLimit, cfg.Orders.CheckoutRateWindow),
	)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	addressHandlers := handlers.NewAddressHandlers(authenticator, svc.Addresses)
	inventoryHandlers := handlers.NewInternalInventoryHandlers(svc.Ledger)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
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
		handlers.WithMeRoutes(func(r chi.Router) {
			r.Route("/addresses", addressHandlers.Routes)
		}),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithInternalRoutes(inventoryHandlers.Routes),
	}
	if stripeProvider != nil {
		webhookHandlers := handlers.NewPaymentWebhookHandlers(stripeProvider, svc.Orders)
		opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
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
		serverLogger.Info("shopfront api listening",
			zap.String("version", buildInfo.Version),
			zap.Int("statusPublishers", len(publishers)),
			zap.Bool("cardPayments", stripeProvider != nil),
		)
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

	// The container drains in-flight notifications before the transports go away.
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	if pubsubPublisher != nil {
		pubsubPublisher.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if redisPublisher != nil {
		if err := redisPublisher.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	v := strings.TrimSpace(version)
	if v == "" {
		v = strings.TrimSpace(env["API_BUILD_VERSION"])
	}
	if v == "" {
		v = "dev"
	}
	sha := strings.TrimSpace(commit)
	if sha == "" {
		sha = strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	}
	if sha == "" {
		sha = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     v,
		CommitSHA:   sha,
		Environment: environment,
		StartedAt:   started,
	}
}

type redisStatusPublisher struct {
	*realtime.RedisStatusPublisher
	client redis.UniversalClient
}

func (p *redisStatusPublisher) Close() error {
	return p.client.Close()
}

func newRedisPublisher(cfg config.Config, logger *zap.Logger) *redisStatusPublisher {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		logger.Info("redis: address not configured; live status updates disabled")
		return nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(addr, ","),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	publisher, err := realtime.NewRedisStatusPublisher(client, statusKeyTTL)
	if err != nil {
		logger.Warn("redis: status publisher disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return &redisStatusPublisher{RedisStatusPublisher: publisher, client: client}
}

func newPubSubPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pubsub.Client, *pubsub.Topic, *jobs.PubSubStatusPublisher) {
	topicID := strings.TrimSpace(cfg.PubSub.StatusTopic)
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if topicID == "" || projectID == "" {
		logger.Info("pubsub: topic or project not configured; durable status events disabled")
		return nil, nil, nil
	}
	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
	}
	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		logger.Warn("pubsub: client init failed; durable status events disabled", zap.Error(err))
		return nil, nil, nil
	}
	topic := client.Topic(topicID)
	publisher, err := jobs.NewPubSubStatusPublisher(topic)
	if err != nil {
		logger.Warn("pubsub: status publisher disabled", zap.Error(err))
		_ = client.Close()
		return nil, nil, nil
	}
	return client, topic, publisher
}

func newStripeProvider(cfg config.Config, logger *zap.Logger) *payments.StripeProvider {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Info("stripe: api key not configured; card checkout disabled")
		return nil
	}
	provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        payments.StripeLogger(di.ServiceLogger(logger.Named("payments"))),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	return provider
}

func newHealthRepository(provider *pfirestore.Provider, redisPublisher *redisStatusPublisher, topic *pubsub.Topic, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:     "firestore",
			Required: true,
			Timeout:  1500 * time.Millisecond,
			Check:    provider.Ping,
		},
	}
	if redisPublisher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check:   redisPublisher.Ping,
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: 5 * time.Second}, time.Now)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(observability.Meter(nil)),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames demands Stripe credentials outside local and test environments.
func requiredSecretNames(env map[string]string) []string {
	switch strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"])) {
	case "", "local", "test", "dev":
		return nil
	default:
		return []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	}
}
