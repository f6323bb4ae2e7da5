package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "ppx-dev",
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
	if cfg.Events.ProjectID != "ppx-dev" {
		t.Errorf("expected events project to default to firestore project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Events.Topic != defaultEventsTopic {
		t.Errorf("expected default topic, got %s", cfg.Events.Topic)
	}
	if cfg.Detection.Interval != 6*time.Second {
		t.Errorf("expected 6s detection interval, got %s", cfg.Detection.Interval)
	}
	if cfg.Detection.RateLimitBackoff != 30*time.Second {
		t.Errorf("expected 30s backoff, got %s", cfg.Detection.RateLimitBackoff)
	}
	if !cfg.Detection.StrictMatching {
		t.Errorf("expected strict matching by default")
	}
	if cfg.Storage.FramesBucket != "" {
		t.Errorf("expected frame archiving disabled, got %s", cfg.Storage.FramesBucket)
	}
	if cfg.Storage.FramesPrefix != "frames" {
		t.Errorf("unexpected frames prefix %s", cfg.Storage.FramesPrefix)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OperatorHeader != defaultOperatorHeader {
		t.Errorf("expected default operator header, got %s", cfg.Security.OperatorHeader)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.RateLimits.FramesPerMinute != defaultFramesPerMinute {
		t.Errorf("unexpected frames rate limit: %d", cfg.RateLimits.FramesPerMinute)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_SERVER_PORT":                  "9090",
		"FULFILLMENT_SERVER_IDLE_TIMEOUT":          "2m",
		"FULFILLMENT_FIRESTORE_PROJECT_ID":         "ppx-prod",
		"FULFILLMENT_STORAGE_FRAMES_BUCKET":        "ppx-frames",
		"FULFILLMENT_STORAGE_FRAMES_PREFIX":        "/detections/",
		"FULFILLMENT_AI_VISION_ENDPOINT":           "https://vision.example.com/recognize",
		"FULFILLMENT_AI_VOICE_ENDPOINT":            "https://voice.example.com",
		"FULFILLMENT_AI_AUTH_TOKEN":                "secret://ai/token",
		"FULFILLMENT_AI_TIMEOUT":                   "5s",
		"FULFILLMENT_EVENTS_PROJECT_ID":            "ppx-events",
		"FULFILLMENT_EVENTS_TOPIC":                 "carts",
		"FULFILLMENT_DETECTION_INTERVAL":           "10s",
		"FULFILLMENT_DETECTION_POLL_EVERY":         "500ms",
		"FULFILLMENT_DETECTION_STRICT_MATCHING":    "false",
		"FULFILLMENT_RATELIMIT_FRAMES_PER_MIN":     "12",
		"FULFILLMENT_SECURITY_ENVIRONMENT":         "PROD",
		"FULFILLMENT_SECURITY_OPERATOR_HEADER":     "X-Crew-ID",
		"FULFILLMENT_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH":    "500",
		"FULFILLMENT_DETECTION_RATE_LIMIT_BACKOFF": "45s",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://ai/token" {
			return "ai-token", nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.AI.AuthToken != "ai-token" {
		t.Errorf("expected resolved ai token, got %s", cfg.AI.AuthToken)
	}
	if cfg.AI.Timeout != 5*time.Second {
		t.Errorf("unexpected ai timeout %s", cfg.AI.Timeout)
	}
	if cfg.Storage.FramesPrefix != "detections" {
		t.Errorf("expected trimmed frames prefix, got %s", cfg.Storage.FramesPrefix)
	}
	if cfg.Events.ProjectID != "ppx-events" || cfg.Events.Topic != "carts" {
		t.Errorf("unexpected events config %+v", cfg.Events)
	}
	if cfg.Detection.Interval != 10*time.Second || cfg.Detection.PollEvery != 500*time.Millisecond {
		t.Errorf("unexpected detection timing %+v", cfg.Detection)
	}
	if cfg.Detection.StrictMatching {
		t.Errorf("expected lenient matching")
	}
	if cfg.Detection.RateLimitBackoff != 45*time.Second {
		t.Errorf("unexpected backoff %s", cfg.Detection.RateLimitBackoff)
	}
	if cfg.RateLimits.FramesPerMinute != 12 {
		t.Errorf("unexpected frames rate %d", cfg.RateLimits.FramesPerMinute)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lowercased environment, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OperatorHeader != "X-Crew-ID" {
		t.Errorf("unexpected operator header %s", cfg.Security.OperatorHeader)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadClampsPollToInterval(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "ppx-dev",
		"FULFILLMENT_DETECTION_INTERVAL":   "2s",
		"FULFILLMENT_DETECTION_POLL_EVERY": "5s",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Detection.PollEvery != 2*time.Second {
		t.Fatalf("expected poll clamped to interval, got %s", cfg.Detection.PollEvery)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "FULFILLMENT_SERVER_PORT=7070\nexport FULFILLMENT_FIRESTORE_PROJECT_ID=\"ppx-dot\"\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "ppx-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 1 || fields[0] != "Firestore.ProjectID" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadRejectsInvalidDetectionTiming(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID":  "ppx-dev",
		"FULFILLMENT_DETECTION_STALE_AFTER": "0s",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := validation.Fields(); len(got) != 1 || got[0] != "Detection.StaleAfter" {
		t.Fatalf("unexpected fields %v", got)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "ppx-dev",
		"FULFILLMENT_AI_AUTH_TOKEN":        "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "FULFILLMENT_FIRESTORE_PROJECT_ID=dot-project\nFULFILLMENT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("FULFILLMENT_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("FULFILLMENT_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["FULFILLMENT_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["FULFILLMENT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["FULFILLMENT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "ppx-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("AI.AuthToken"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	expectedRedacted := redactSecretName("AI.AuthToken")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "ppx-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "AI.AuthToken" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("AI.AuthToken"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIRESTORE_PROJECT_ID": "ppx-dev",
		"FULFILLMENT_AI_AUTH_TOKEN":        "sm://ai/token",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://ai/token" {
			return "legacy-token", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("AI.AuthToken"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.AI.AuthToken != "legacy-token" {
		t.Fatalf("expected legacy secret to resolve, got %s", cfg.AI.AuthToken)
	}
}
