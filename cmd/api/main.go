package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Francovarelav/pickpackpromx/internal/ai"
	"github.com/Francovarelav/pickpackpromx/internal/di"
	"github.com/Francovarelav/pickpackpromx/internal/handlers"
	"github.com/Francovarelav/pickpackpromx/internal/platform/config"
	pfirestore "github.com/Francovarelav/pickpackpromx/internal/platform/firestore"
	"github.com/Francovarelav/pickpackpromx/internal/platform/idempotency"
	"github.com/Francovarelav/pickpackpromx/internal/platform/jobs"
	"github.com/Francovarelav/pickpackpromx/internal/platform/observability"
	"github.com/Francovarelav/pickpackpromx/internal/platform/secrets"
	platformstorage "github.com/Francovarelav/pickpackpromx/internal/platform/storage"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
	firestoreRepo "github.com/Francovarelav/pickpackpromx/internal/repositories/firestore"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

const (
	serviceName           = "pickpack-fulfillment"
	defaultSecretCacheTTL = 10 * time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	loggerOpts := []observability.LoggerOption{
		observability.WithServiceName(serviceName, buildVersion(envValues)),
	}
	if level := strings.TrimSpace(envValues["FULFILLMENT_LOG_LEVEL"]); level != "" {
		loggerOpts = append(loggerOpts, observability.WithLogLevel(level))
	}
	baseLogger, err := observability.NewLogger(loggerOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

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
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var clientOpts []option.ClientOption
	if cfg.Firestore.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var (
		checks   []repositories.DependencyCheck
		archiver services.FrameArchiver
		events   services.FulfillmentEventPublisher
	)

	if bucket := strings.TrimSpace(cfg.Storage.FramesBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		frameArchiver, err := platformstorage.NewFrameArchiver(storageClient, bucket,
			platformstorage.WithFramePrefix(cfg.Storage.FramesPrefix),
		)
		if err != nil {
			logger.Fatal("failed to initialise frame archiver", zap.Error(err))
		}
		archiver = frameArchiver
		checks = append(checks, repositories.DependencyCheck{
			Name:     "storage",
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	} else {
		logger.Info("frame archiving disabled; no bucket configured")
	}

	var topic *pubsub.Topic
	if projectID := strings.TrimSpace(cfg.Events.ProjectID); projectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic = pubsubClient.Topic(cfg.Events.Topic)
		publisher, err := jobs.NewPubSubEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		events = publisher
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %q does not exist", cfg.Events.Topic)
				}
				return nil
			},
		})
	} else {
		logger.Info("fulfillment events disabled; no project configured")
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, firestoreRepo.WithDependencyChecks(checks...))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	aiLogger := observability.EventLogger(logger.Named("ai"))
	tokenSource := aiTokenSource(envValues, fetcher)
	vision, err := ai.NewVisionClient(ai.ClientConfig{
		Endpoint:    cfg.AI.VisionEndpoint,
		AuthToken:   cfg.AI.AuthToken,
		TokenSource: tokenSource,
		Timeout:     cfg.AI.Timeout,
		Logger:      aiLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise vision client", zap.Error(err))
	}
	voice, err := ai.NewVoiceClient(ai.ClientConfig{
		Endpoint:    cfg.AI.VoiceEndpoint,
		AuthToken:   cfg.AI.AuthToken,
		TokenSource: tokenSource,
		Timeout:     cfg.AI.Timeout,
		Logger:      aiLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise voice client", zap.Error(err))
	}

	metrics, err := services.NewDetectionMetrics(otel.GetMeterProvider().Meter(serviceName))
	if err != nil {
		logger.Warn("detection metrics disabled", zap.Error(err))
	}

	sessionCtx, stopSessions := context.WithCancel(ctx)
	defer stopSessions()

	container, err := di.NewContainer(sessionCtx, cfg, registry, di.Collaborators{
		Vision:   vision,
		Voice:    voice,
		Cameras:  services.NewFrameBufferProvider(),
		Archiver: archiver,
		Events:   events,
		Metrics:  metrics,
		Build:    buildInfo,
		Logger:   observability.EventLogger(logger.Named("fulfillment")),
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
		if topic != nil {
			topic.Stop()
		}
	}()

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithSkip(isFrameUpload),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupLogger := logger.Named("idempotency_cleanup")
		ticker := time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			defer ticker.Stop()
			for {
				select {
				case <-cleanupCtx.Done():
					return
				case <-ticker.C:
					removed, err := idempotencyStore.CleanupExpired(cleanupCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					if err != nil {
						if !errors.Is(err, context.Canceled) {
							cleanupLogger.Warn("idempotency cleanup failed", zap.Error(err))
						}
						continue
					}
					if removed > 0 {
						cleanupLogger.Debug("idempotency cleanup removed records", zap.Int("count", removed))
					}
				}
			}
		}()
	}

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(projectID),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.OperatorMiddleware(cfg.Security.OperatorHeader),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)
	fulfillmentHandlers := handlers.NewFulfillmentHandlers(container.Services.Fulfillment,
		handlers.WithFrameRateLimit(cfg.RateLimits.FramesPerMinute),
		handlers.WithMutationRateLimit(cfg.RateLimits.MutationsPerMinute),
	)
	catalogHandlers := handlers.NewCatalogHandlers(container.Services.Fulfillment)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(fulfillmentHandlers.Routes),
		handlers.WithCartMiddlewares(idempotencyMiddleware),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
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
		serverLogger.Info("fulfillment api listening", zap.String("environment", buildInfo.Environment))
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
	// Closing sessions ends their event streams so Shutdown is not held open by them.
	if err := container.Services.Fulfillment.Shutdown(shutdownCtx); err != nil {
		logger.Warn("bottle-control sessions did not stop cleanly", zap.Error(err))
	}
	stopSessions()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["FULFILLMENT_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	commit := strings.TrimSpace(env["FULFILLMENT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     buildVersion(env),
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// aiTokenSource re-resolves the AI bearer token on every call when it is configured as a
// secret reference, so rotations are picked up without a restart.
func aiTokenSource(env map[string]string, fetcher *secrets.Fetcher) func(context.Context) (string, error) {
	raw := strings.TrimSpace(env["FULFILLMENT_AI_AUTH_TOKEN"])
	if fetcher == nil || !isSecretRef(raw) {
		return nil
	}
	return fetcher.TokenSource(raw)
}

// isFrameUpload reports whether r streams a camera frame. Frames are throttled per cart
// and never retried by stations, so they bypass the idempotency store.
func isFrameUpload(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/bottle-session/frames")
}

func isSecretRef(value string) bool {
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("FULFILLMENT_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("FULFILLMENT_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("FULFILLMENT_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("FULFILLMENT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.GetMeterProvider().Meter(serviceName)),
		secrets.WithCacheTTL(defaultSecretCacheTTL),
	}
	if raw := lookup("FULFILLMENT_SECRET_CACHE_TTL"); raw != "" {
		if ttl, err := time.ParseDuration(raw); err == nil {
			opts = append(opts, secrets.WithCacheTTL(ttl))
		} else {
			logger.Warn("ignoring invalid secret cache ttl", zap.String("value", raw), zap.Error(err))
		}
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("FULFILLMENT_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a non-empty value. The AI
// token is optional for local stacks that talk to an unauthenticated collaborator.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	environment := strings.ToLower(strings.TrimSpace(env["FULFILLMENT_SECURITY_ENVIRONMENT"]))
	if isSecretRef(strings.TrimSpace(env["FULFILLMENT_AI_AUTH_TOKEN"])) || (environment != "" && environment != "local") {
		required = append(required, "AI.AuthToken")
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range parseKeyValueList(env["FULFILLMENT_SECRET_PROJECT_IDS"]) {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

// secretVersionPinsFromEnv parses "[env:]name=version" pairs into canonical secret:// refs.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(env["FULFILLMENT_SECRET_VERSION_PINS"]) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
