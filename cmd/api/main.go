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
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/smilequote/api/internal/di"
	"github.com/smilequote/api/internal/handlers"
	"github.com/smilequote/api/internal/platform/config"
	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/platform/idempotency"
	"github.com/smilequote/api/internal/platform/jobs"
	"github.com/smilequote/api/internal/platform/observability"
	"github.com/smilequote/api/internal/platform/secrets"
	platformstorage "github.com/smilequote/api/internal/platform/storage"
	"github.com/smilequote/api/internal/repositories"
	firestoreRepo "github.com/smilequote/api/internal/repositories/firestore"
	"github.com/smilequote/api/internal/repositories/memory"
	"github.com/smilequote/api/internal/services"
)

const idempotencyCollection = "idempotency_keys"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("smilequote-api")
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
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Error(err))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("environment", cfg.Environment))
	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var containerOpts []di.Option
	containerOpts = append(containerOpts, di.WithLogger(logger), di.WithBuildInfo(buildInfo))
	var probes []repositories.Probe
	probes = append(probes, secretManagerProbe(fetcher))

	if topicName := strings.TrimSpace(cfg.PubSub.QuoteEmailTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		defer topic.Stop()
		publisher, err := jobs.NewPubSubQuoteEmailPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise quote email publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithPublisher(publisher))
		probes = append(probes, repositories.Probe{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topicName)
				}
				return nil
			},
		})
	} else {
		logger.Warn("quote email topic not configured; emailing quotes is disabled")
	}

	if bucket := strings.TrimSpace(cfg.Storage.ArchiveBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		archiver, err := platformstorage.NewArchiver(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise quote archiver", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithArchiver(archiver))
	}

	registry, idempotencyStore, err := newRegistry(ctx, logger, cfg, probes)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyLogger := observability.EventLogger(logger.Named("idempotency"))
	submitGuard := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(idempotencyLogger),
	)

	sessionSubmitGuard := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithScope(func(r *http.Request) string { return "session:" + chi.URLParam(r, "sessionId") }),
		idempotency.WithLogger(idempotencyLogger),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, idempotencyLogger)
	}()

	svc := container.Services
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(svc.Catalog).Routes))
	opts = append(opts, handlers.WithPromoRoutes(handlers.NewPromoHandlers(svc.Promos).Routes))
	opts = append(opts, handlers.WithQuoteRoutes(handlers.NewQuoteHandlers(svc.Quotes, handlers.WithQuoteSubmitMiddleware(submitGuard)).Routes))
	opts = append(opts, handlers.WithHandoffRoutes(handlers.NewHandoffHandlers(svc.Sessions).Routes))
	opts = append(opts, handlers.WithSessionRoutes(handlers.NewSessionHandlers(svc.Sessions, handlers.WithSessionSubmitMiddleware(sessionSubmitGuard)).Routes))

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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Persistence.Backend))
	go func() {
		serverLogger.Info("smilequote api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newRegistry selects the persistence backend. The memory backend is
// seeded with the fallback catalog so local runs exercise the remote path.
func newRegistry(ctx context.Context, logger *zap.Logger, cfg config.Config, probes []repositories.Probe) (repositories.Registry, idempotency.Store, error) {
	switch cfg.Persistence.Backend {
	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore,
			pfirestore.WithClientOptions(option.WithUserAgent("smilequote-api")),
			pfirestore.WithTransactionLimits(0, cfg.Server.WriteTimeout),
		)
		if _, err := provider.Client(ctx); err != nil {
			return nil, nil, err
		}
		reg, err := firestoreRepo.NewRegistry(provider, firestoreRepo.Options{
			SessionTTL:  cfg.Quotes.SessionTTL,
			ExtraProbes: probes,
		})
		if err != nil {
			_ = provider.Close()
			return nil, nil, err
		}
		store, err := idempotency.NewFirestoreStore(provider, idempotencyCollection)
		if err != nil {
			_ = provider.Close()
			return nil, nil, err
		}
		return reg, store, nil
	default:
		reg := memory.NewRegistry(memory.Options{SessionTTL: cfg.Quotes.SessionTTL})
		fallback, err := services.DefaultFallbackCatalog()
		if err != nil {
			return nil, nil, err
		}
		if err := di.SeedCatalog(ctx, reg.CatalogStore(), repositories.CatalogQuery{}, fallback); err != nil {
			return nil, nil, err
		}
		logger.Info("using in-memory repositories", zap.Int("treatments", len(fallback.Treatments)))
		return reg, idempotency.NewMemoryStore(), nil
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["SQ_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["SQ_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(env["SQ_SECRETS_PROJECT_ID"])
	if project == "" {
		project = strings.TrimSpace(env["SQ_FIRESTORE_PROJECT_ID"])
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := strings.TrimSpace(env["SQ_SECRETS_FALLBACK_FILE"]); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if project == "" {
		opts = append(opts, secrets.WithoutSecretManager())
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secret fields that must resolve outside local runs.
func requiredSecretNames(env map[string]string) []string {
	switch strings.ToLower(strings.TrimSpace(env["SQ_ENVIRONMENT"])) {
	case "", "local", "test":
		return nil
	default:
		return []string{"Email.SigningKey"}
	}
}

// secretManagerProbe treats a missing probe secret as healthy; only
// transport and permission failures degrade readiness.
func secretManagerProbe(fetcher *secrets.Fetcher) repositories.Probe {
	const secretHealthReference = "secret://smilequote-healthz?version=latest"
	return repositories.Probe{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || errors.Is(err, secrets.ErrNotFound) {
				return nil
			}
			return err
		},
	}
}
