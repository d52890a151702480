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
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/atelier-sucre/api/internal/di"
	"github.com/atelier-sucre/api/internal/handlers"
	"github.com/atelier-sucre/api/internal/platform/auth"
	"github.com/atelier-sucre/api/internal/platform/config"
	pfirestore "github.com/atelier-sucre/api/internal/platform/firestore"
	"github.com/atelier-sucre/api/internal/platform/idempotency"
	"github.com/atelier-sucre/api/internal/platform/jobs"
	"github.com/atelier-sucre/api/internal/platform/observability"
	"github.com/atelier-sucre/api/internal/platform/secrets"
	platformstorage "github.com/atelier-sucre/api/internal/platform/storage"
	"github.com/atelier-sucre/api/internal/platform/textutil"
	"github.com/atelier-sucre/api/internal/repositories"
	firestoreRepo "github.com/atelier-sucre/api/internal/repositories/firestore"
	"github.com/atelier-sucre/api/internal/services"
)

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
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := openSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg := loadConfig(ctx, logger, fetcher)
	buildInfo := readBuildInfo(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	eventsTopic, publisher, closeMessaging := initMessaging(ctx, logger, cfg)
	defer closeMessaging()

	signedURLClient := newSignedURLClient(ctx, logger, fetcher, envValues)

	container := buildContainer(ctx, logger, cfg, buildInfo, containerInputs{
		provider:        firestoreProvider,
		firestoreClient: firestoreClient,
		fetcher:         fetcher,
		eventsTopic:     eventsTopic,
		publisher:       publisher,
		signedURLClient: signedURLClient,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	stopCleanup := startIdempotencyCleanup(logger, idempotencyStore, cfg.Idempotency)

	router := buildRouter(ctx, logger, cfg, buildInfo, container, idempotencyStore)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	httpLog := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		httpLog.Info("atelier-sucre api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLog.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown requested, draining in-flight requests")

	stopCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func loadConfig(ctx context.Context, logger *zap.Logger, fetcher *secrets.Fetcher) config.Config {
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Orders.TrackingTokenSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	return cfg
}

// initMessaging dials Pub/Sub and opens the domain-events topic. With no
// topic configured the API runs with events disabled rather than failing.
func initMessaging(ctx context.Context, logger *zap.Logger, cfg config.Config) (*pubsub.Topic, *jobs.PubSubEventPublisher, func()) {
	topicName := strings.TrimSpace(cfg.PubSub.EventsTopic)
	if topicName == "" {
		logger.Warn("pubsub events topic not configured; domain events disabled")
		return nil, nil, func() {}
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	topic := pubsubClient.Topic(topicName)

	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}

	return topic, publisher, func() {
		topic.Stop()
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

type containerInputs struct {
	provider        *pfirestore.Provider
	firestoreClient *firestore.Client
	fetcher         *secrets.Fetcher
	eventsTopic     *pubsub.Topic
	publisher       *jobs.PubSubEventPublisher
	signedURLClient *platformstorage.Client
}

func buildContainer(ctx context.Context, logger *zap.Logger, cfg config.Config, buildInfo services.BuildInfo, in containerInputs) *di.Container {
	healthRepo, err := newHealthRepository(in.firestoreClient, in.fetcher, in.eventsTopic)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(in.provider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	containerOpts := []di.ContainerOption{
		di.WithBuildInfo(buildInfo),
		di.WithContainerLogger(logger.Named("services")),
	}
	if in.signedURLClient != nil {
		containerOpts = append(containerOpts, di.WithStorageClient(in.signedURLClient))
	}
	if in.publisher != nil {
		containerOpts = append(containerOpts,
			di.WithOrderEventPublisher(in.publisher),
			di.WithTestimonialEventPublisher(in.publisher),
		)
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	return container
}

func buildRouter(ctx context.Context, logger *zap.Logger, cfg config.Config, buildInfo services.BuildInfo, container *di.Container, store idempotency.Store) http.Handler {
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	trackingIssuer, err := auth.NewTrackingTokenIssuer(
		cfg.Orders.TrackingTokenSecret,
		cfg.Orders.TrackingTokenIssuer,
		auth.WithTrackingTTL(cfg.Orders.TrackingTokenTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise tracking token issuer", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	publicLimiter := handlers.NewRateLimiter(cfg.RateLimits.PublicPerMinute, time.Minute, nil)
	adminLimiter := handlers.NewRateLimiter(cfg.RateLimits.AdminPerMinute, time.Minute, nil)

	svc := container.Services
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	productHandlers := handlers.NewProductHandlers(svc.Catalog)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders, trackingIssuer, publicLimiter)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders)
	adminCatalogHandlers := handlers.NewAdminCatalogHandlers(authenticator, svc.Catalog)
	adminTestimonialHandlers := handlers.NewAdminTestimonialHandlers(authenticator, svc.Testimonials)
	adminPurchaseHandlers := handlers.NewAdminPurchaseHandlers(authenticator, svc.Purchases)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(tracingProject(cfg)),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		idempotencyMiddleware,
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminMiddlewares(handlers.RateLimitMiddleware(adminLimiter)),
	}
	if cfg.Features.EnableTestimonials {
		testimonialHandlers := handlers.NewTestimonialHandlers(svc.Testimonials, publicLimiter)
		opts = append(opts, handlers.WithTestimonialRoutes(testimonialHandlers.Routes))
	}
	opts = append(opts, handlers.WithAdminRoutes(func(r chi.Router) {
		r.Route("/orders", adminOrderHandlers.Routes)
		r.Route("/products", adminCatalogHandlers.Routes)
		if cfg.Features.EnableTestimonials {
			r.Route("/testimonials", adminTestimonialHandlers.Routes)
		}
		if cfg.Features.EnablePurchases {
			r.Route("/purchases", adminPurchaseHandlers.Routes)
		}
	}))

	return handlers.NewRouter(opts...)
}

// startIdempotencyCleanup periodically purges expired idempotency records.
// The returned function stops the loop and waits for an in-flight sweep.
func startIdempotencyCleanup(logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) func() {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-ticker.C:
				runCtx, cancelRun := context.WithTimeout(ctx, time.Minute)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				cancelRun()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		wg.Wait()
	}
}

func readBuildInfo(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	pick := func(raw, fallback string) string {
		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     pick(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   pick(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: pick(cfg.Environment, "local"),
		StartedAt:   started,
	}
}

// newSignedURLClient assembles the signer used for product image uploads.
// The key reference may be a secret:// URI or inline service account JSON;
// when absent the catalog runs with image uploads disabled.
func newSignedURLClient(ctx context.Context, logger *zap.Logger, fetcher *secrets.Fetcher, env map[string]string) *platformstorage.Client {
	ref := strings.TrimSpace(env["API_STORAGE_SIGNER_KEY"])
	if ref == "" {
		logger.Warn("storage signer key not configured; product image uploads disabled")
		return nil
	}

	keyJSON := ref
	if strings.HasPrefix(ref, "secret://") || strings.HasPrefix(ref, "sm://") {
		resolved, err := fetcher.Resolve(ctx, ref)
		if err != nil {
			logger.Warn("failed to resolve storage signer key; product image uploads disabled", zap.Error(err))
			return nil
		}
		keyJSON = resolved
	}

	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(keyJSON))
	if err != nil {
		logger.Warn("failed to parse storage signer key; product image uploads disabled", zap.Error(err))
		return nil
	}
	client, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Warn("failed to initialise signed url client; product image uploads disabled", zap.Error(err))
		return nil
	}
	return client
}

func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	add := func(name string, timeout time.Duration, check func(context.Context) error) {
		checks = append(checks, repositories.DependencyCheck{Name: name, Timeout: timeout, Check: check})
	}

	if client != nil {
		c := client
		add("firestore", 1500*time.Millisecond, func(ctx context.Context) error {
			_, err := c.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		add("secretManager", time.Second, func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			// The canary secret not existing still proves the service answers.
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		})
	}
	if topic != nil {
		t := topic
		add("pubsub", time.Second, func(ctx context.Context) error {
			exists, err := t.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("topic %s does not exist", t.ID())
			}
			return nil
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func tracingProject(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func openSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	envLabel := strings.ToLower(get("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := get("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = get("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := get("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseSecretProjects(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := parseVersionPins(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := get("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func parseSecretProjects(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range textutil.ParseStringMap(env["API_SECRET_PROJECT_IDS"]) {
		label = strings.ToLower(label)
		if label == "" || project == "" {
			continue
		}
		projects[label] = project
	}
	return projects
}

func parseVersionPins(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range textutil.ParseStringMap(env["API_SECRET_VERSION_PINS"]) {
		if ref == "" || version == "" {
			continue
		}
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		ref = prefix + ref
		pins[ref] = version
	}
	return pins
}
