package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultAITimeout            = 20 * time.Second
	defaultEventsTopic          = "fulfillment-events"
	defaultDetectionInterval    = 6 * time.Second
	defaultDetectionPoll        = time.Second
	defaultDetectionStale       = 20 * time.Second
	defaultRateLimitBackoff     = 30 * time.Second
	defaultFramesPerMinute      = 30
	defaultMutationsPerMinute   = 120
	defaultSecurityEnvironment  = "local"
	defaultOperatorHeader       = "X-Operator-ID"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	AI          AIConfig
	Events      EventsConfig
	Detection   DetectionConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsFile string
}

// StorageConfig lists bucket names used by the application. An empty FramesBucket
// disables detection frame archiving.
type StorageConfig struct {
	FramesBucket string
	FramesPrefix string
}

// AIConfig defines endpoints and credentials for the vision and voice collaborators.
type AIConfig struct {
	VisionEndpoint string
	VoiceEndpoint  string
	AuthToken      string
	Timeout        time.Duration
}

// EventsConfig configures fulfillment event publishing. Publishing is disabled when
// Topic is empty.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// DetectionConfig tunes the bottle-control detection loop.
type DetectionConfig struct {
	Interval         time.Duration
	PollEvery        time.Duration
	StaleAfter       time.Duration
	RateLimitBackoff time.Duration
	StrictMatching   bool
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	FramesPerMinute    int
	MutationsPerMinute int
}

// SecurityConfig groups environment labelling and operator attribution settings.
type SecurityConfig struct {
	Environment    string
	OperatorHeader string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path
// disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "AI.AuthToken") that must resolve to a
// non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets makes Load panic instead of returning a MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so
// callers can build the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newEnvSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.merged(), nil
}

// Load reads FULFILLMENT_* settings from the explicit map, the process environment and the
// .env file, in that order of precedence, then resolves secret references and validates.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("FULFILLMENT_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("FULFILLMENT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("FULFILLMENT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("FULFILLMENT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:       src.str("FULFILLMENT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:    src.str("FULFILLMENT_FIRESTORE_EMULATOR_HOST", ""),
			CredentialsFile: src.str("FULFILLMENT_CREDENTIALS_FILE", ""),
		},
		Storage: StorageConfig{
			FramesBucket: src.str("FULFILLMENT_STORAGE_FRAMES_BUCKET", ""),
			FramesPrefix: strings.Trim(src.str("FULFILLMENT_STORAGE_FRAMES_PREFIX", "frames"), "/"),
		},
		AI: AIConfig{
			VisionEndpoint: src.str("FULFILLMENT_AI_VISION_ENDPOINT", ""),
			VoiceEndpoint:  src.str("FULFILLMENT_AI_VOICE_ENDPOINT", ""),
			AuthToken:      src.str("FULFILLMENT_AI_AUTH_TOKEN", ""),
			Timeout:        src.duration("FULFILLMENT_AI_TIMEOUT", defaultAITimeout),
		},
		Events: EventsConfig{
			ProjectID: src.str("FULFILLMENT_EVENTS_PROJECT_ID", ""),
			Topic:     src.str("FULFILLMENT_EVENTS_TOPIC", defaultEventsTopic),
		},
		Detection: DetectionConfig{
			Interval:         src.duration("FULFILLMENT_DETECTION_INTERVAL", defaultDetectionInterval),
			PollEvery:        src.duration("FULFILLMENT_DETECTION_POLL_EVERY", defaultDetectionPoll),
			StaleAfter:       src.duration("FULFILLMENT_DETECTION_STALE_AFTER", defaultDetectionStale),
			RateLimitBackoff: src.duration("FULFILLMENT_DETECTION_RATE_LIMIT_BACKOFF", defaultRateLimitBackoff),
			StrictMatching:   src.boolean("FULFILLMENT_DETECTION_STRICT_MATCHING", true),
		},
		RateLimits: RateLimitConfig{
			FramesPerMinute:    src.integer("FULFILLMENT_RATELIMIT_FRAMES_PER_MIN", defaultFramesPerMinute),
			MutationsPerMinute: src.integer("FULFILLMENT_RATELIMIT_MUTATIONS_PER_MIN", defaultMutationsPerMinute),
		},
		Security: SecurityConfig{
			Environment:    strings.ToLower(src.str("FULFILLMENT_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OperatorHeader: src.str("FULFILLMENT_SECURITY_OPERATOR_HEADER", defaultOperatorHeader),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("FULFILLMENT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("FULFILLMENT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.integer("FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Events are published to the Firestore project unless told otherwise.
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	// The poll tick can never be slower than the detection interval it gates.
	if cfg.Detection.Interval > 0 && cfg.Detection.PollEvery > cfg.Detection.Interval {
		cfg.Detection.PollEvery = cfg.Detection.Interval
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	secretFields := map[string]*string{
		"AI.AuthToken": &cfg.AI.AuthToken,
	}
	resolved := make(map[string]string, len(secretFields))
	for name, field := range secretFields {
		value, err := resolveSecret(ctx, *field, resolver)
		if err != nil {
			return Config{}, err
		}
		*field = value
		resolved[name] = value
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	rules := []struct {
		field string
		bad   bool
	}{
		{"Server.Port", cfg.Server.Port == ""},
		{"Firestore.ProjectID", cfg.Firestore.ProjectID == ""},
		{"AI.Timeout", cfg.AI.Timeout <= 0},
		{"Detection.Interval", cfg.Detection.Interval <= 0},
		{"Detection.PollEvery", cfg.Detection.PollEvery <= 0},
		{"Detection.StaleAfter", cfg.Detection.StaleAfter <= 0},
		{"Detection.RateLimitBackoff", cfg.Detection.RateLimitBackoff <= 0},
		{"RateLimits.FramesPerMinute", cfg.RateLimits.FramesPerMinute < 0},
		{"RateLimits.MutationsPerMinute", cfg.RateLimits.MutationsPerMinute < 0},
		{"Security.OperatorHeader", strings.TrimSpace(cfg.Security.OperatorHeader) == ""},
		{"Idempotency.Header", strings.TrimSpace(cfg.Idempotency.Header) == ""},
		{"Idempotency.TTL", cfg.Idempotency.TTL <= 0},
		{"Idempotency.CleanupInterval", cfg.Idempotency.CleanupInterval <= 0},
		{"Idempotency.CleanupBatchSize", cfg.Idempotency.CleanupBatchSize <= 0},
	}
	var invalid []string
	for _, rule := range rules {
		if rule.bad {
			invalid = append(invalid, rule.field)
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
