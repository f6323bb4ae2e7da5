// Package secrets resolves secret:// references used by the fulfillment configuration,
// chiefly the bearer token shared with the vision and voice collaborators.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	metricNamespace     = "github.com/Francovarelav/pickpackpromx/internal/platform/secrets"
)

// Resolution sources recorded on the latency histogram.
const (
	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references against Secret Manager with an in-memory cache keyed by
// reference and version. A non-zero TTL expires cached values so a rotated token is picked
// up without a restart. When Secret Manager refuses or cannot be reached the fetcher reads
// the local fallback file instead.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	clock      func() time.Time
	latency    metric.Float64Histogram

	env         string
	project     string
	projectMap  map[string]string
	versionPins map[string]string
	ttl         time.Duration
	fallback    *fallbackFile

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	canonical string
	value     string
	storedAt  time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher, *buildOptions)

type buildOptions struct {
	meter      metric.Meter
	clientOpts []option.ClientOption
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher, _ *buildOptions) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects the key used for per-environment project IDs and version pins.
func WithEnvironment(env string) Option {
	return func(f *Fetcher, _ *buildOptions) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			f.env = env
		}
	}
}

// WithDefaultProject configures the project used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher, _ *buildOptions) { f.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment labels to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(f *Fetcher, _ *buildOptions) { f.projectMap = cloneMap(m) }
}

// WithVersionPins pins versions by canonical reference, optionally prefixed with "env:".
// An env-scoped pin beats an unscoped one.
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher, _ *buildOptions) { f.versionPins = cloneMap(pins) }
}

// WithCacheTTL bounds how long a resolved value is served from memory. Zero caches forever.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher, _ *buildOptions) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

func WithFallbackFile(path string) Option {
	return func(f *Fetcher, _ *buildOptions) { f.fallback = &fallbackFile{path: strings.TrimSpace(path)} }
}

func WithMeter(m metric.Meter) Option {
	return func(_ *Fetcher, b *buildOptions) { b.meter = m }
}

func WithClock(clock func() time.Time) Option {
	return func(f *Fetcher, _ *buildOptions) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithSecretManagerClient injects a preconfigured client. The fetcher does not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher, _ *buildOptions) { f.client = client }
}

// WithClientOptions forwards Cloud client options when the fetcher dials Secret Manager.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(_ *Fetcher, b *buildOptions) { b.clientOpts = append(b.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is logged and
// the fetcher runs on the fallback file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:   zap.NewNop(),
		clock:    time.Now,
		env:      strings.ToLower(strings.TrimSpace(os.Getenv("FULFILLMENT_SECURITY_ENVIRONMENT"))),
		fallback: &fallbackFile{path: defaultFallbackPath},
		cache:    make(map[string]cachedSecret),
	}
	var b buildOptions
	for _, opt := range opts {
		if opt != nil {
			opt(f, &b)
		}
	}
	if f.env == "" {
		f.env = defaultEnvironment
	}

	meter := b.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	latency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err != nil {
		f.logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	} else {
		f.latency = latency
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, b.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value for ref from the cache, Secret Manager or the fallback file, in
// that order. Only permission, authentication and availability failures fall back; a
// missing secret is an error.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := f.clock()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.versionFor(ref)
	key := versionKey(ref.Canonical, version)

	if value, ok := f.cached(key); ok {
		f.observe(ctx, start, sourceCache)
		return value, nil
	}

	value, source, err := f.fetch(ctx, ref, version)
	if err != nil {
		f.observe(ctx, start, sourceError)
		return "", err
	}
	f.mu.Lock()
	f.cache[key] = cachedSecret{canonical: ref.Canonical, value: value, storedAt: f.clock()}
	f.mu.Unlock()
	f.observe(ctx, start, source)
	return value, nil
}

func (f *Fetcher) fetch(ctx context.Context, ref Reference, version string) (string, string, error) {
	if project := f.projectFor(ref); project != "" && f.client != nil {
		name := ref.resourceName(project, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), sourceRemote, nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: secret manager returned empty payload for %s", name)
		case !fallbackCode(err):
			return "", "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.Canonical, err)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", ref.Canonical), zap.Error(err))
	}

	value, ok, err := f.fallback.lookup(ref.Canonical, version)
	if err != nil {
		f.logger.Debug("secrets: fallback load error", zap.Error(err))
	}
	if !ok {
		return "", "", fmt.Errorf("secrets: fallback value not found for %s", ref.Canonical)
	}
	return value, sourceFallback, nil
}

// Invalidate drops every cached version of ref.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == ref.Canonical {
			delete(f.cache, key)
		}
	}
}

// TokenSource returns a function resolving ref on each call. The cache TTL bounds how often
// Secret Manager is actually hit.
func (f *Fetcher) TokenSource(ref string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return f.Resolve(ctx, ref)
	}
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	entry, ok := f.cache[key]
	f.mu.RUnlock()
	if !ok || (f.ttl > 0 && f.clock().Sub(entry.storedAt) >= f.ttl) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) projectFor(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return f.project
}

func (f *Fetcher) versionFor(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.Canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.Canonical]); pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	ms := float64(f.clock().Sub(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func fallbackCode(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
