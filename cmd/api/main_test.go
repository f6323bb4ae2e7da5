package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Francovarelav/pickpackpromx/internal/platform/config"
)

func TestBuildInfoFromEnvDefaults(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	info := buildInfoFromEnv(map[string]string{}, config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}
	if !info.StartedAt.Equal(started) {
		t.Fatalf("expected started %v, got %v", started, info.StartedAt)
	}

	cfg := config.Config{Security: config.SecurityConfig{Environment: "prod"}}
	info = buildInfoFromEnv(map[string]string{
		"FULFILLMENT_BUILD_VERSION":    "1.4.0",
		"FULFILLMENT_BUILD_COMMIT_SHA": "abc123",
	}, cfg, started)
	if info.Version != "1.4.0" || info.CommitSHA != "abc123" || info.Environment != "prod" {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestRequiredSecretNames(t *testing.T) {
	if got := requiredSecretNames(map[string]string{}); len(got) != 0 {
		t.Fatalf("expected no required secrets locally, got %v", got)
	}
	got := requiredSecretNames(map[string]string{"FULFILLMENT_AI_AUTH_TOKEN": "sm://ai-token"})
	if len(got) != 1 || got[0] != "AI.AuthToken" {
		t.Fatalf("expected AI.AuthToken, got %v", got)
	}
	got = requiredSecretNames(map[string]string{"FULFILLMENT_SECURITY_ENVIRONMENT": "prod"})
	if len(got) != 1 {
		t.Fatalf("expected token to be required outside local, got %v", got)
	}
}

func TestSecretVersionPinsFromEnv(t *testing.T) {
	pins := secretVersionPinsFromEnv(map[string]string{
		"FULFILLMENT_SECRET_VERSION_PINS": "prod:sm://ai-token=7, vision-key=3, broken, =1",
	})
	if len(pins) != 2 {
		t.Fatalf("expected 2 pins, got %v", pins)
	}
	if pins["prod:secret://ai-token"] != "7" {
		t.Fatalf("expected env-scoped pin, got %v", pins)
	}
	if pins["secret://vision-key"] != "3" {
		t.Fatalf("expected canonical pin, got %v", pins)
	}
}

func TestSecretProjectMapFromEnv(t *testing.T) {
	projects := secretProjectMapFromEnv(map[string]string{
		"FULFILLMENT_SECRET_PROJECT_IDS": "PROD=gategroup-prod,stg=gategroup-stg",
	})
	if projects["prod"] != "gategroup-prod" || projects["stg"] != "gategroup-stg" {
		t.Fatalf("unexpected projects %v", projects)
	}
}

func TestAITokenSourceOnlyForSecretRefs(t *testing.T) {
	if src := aiTokenSource(map[string]string{"FULFILLMENT_AI_AUTH_TOKEN": "plain"}, nil); src != nil {
		t.Fatal("expected no token source for plain tokens")
	}
	if src := aiTokenSource(map[string]string{"FULFILLMENT_AI_AUTH_TOKEN": "sm://token"}, nil); src != nil {
		t.Fatal("expected no token source without a fetcher")
	}
}

func TestIsFrameUpload(t *testing.T) {
	cases := map[string]struct {
		method string
		path   string
		want   bool
	}{
		"frame post":  {method: http.MethodPost, path: "/api/v1/carts/c-1/bottle-session/frames", want: true},
		"session get": {method: http.MethodGet, path: "/api/v1/carts/c-1/bottle-session/frames"},
		"ledger post": {method: http.MethodPost, path: "/api/v1/carts/c-1/ledger"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if got := isFrameUpload(req); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
