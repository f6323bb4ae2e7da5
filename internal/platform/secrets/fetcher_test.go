package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const tokenResource = "projects/test/secrets/vision_token/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[tokenResource] = "remote-token"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://vision_token")
		if err != nil {
			t.Fatalf("Resolve call %d returned error: %v", i, err)
		}
		if got != "remote-token" {
			t.Fatalf("expected remote-token, got %s", got)
		}
	}
	if calls := client.callCount(tokenResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveAcceptsSMScheme(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[tokenResource] = "remote-token"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.ResolveSecret(ctx, "sm://vision_token")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "remote-token" {
		t.Fatalf("expected remote-token, got %s", got)
	}
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[tokenResource] = "token-1"

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithCacheTTL(5*time.Minute),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	token := fetcher.TokenSource("secret://vision_token")

	if got, _ := token(ctx); got != "token-1" {
		t.Fatalf("expected token-1, got %s", got)
	}

	client.set(tokenResource, "token-2")
	now = now.Add(4 * time.Minute)
	if got, _ := token(ctx); got != "token-1" {
		t.Fatalf("expected cached token-1, got %s", got)
	}

	now = now.Add(time.Minute)
	if got, _ := token(ctx); got != "token-2" {
		t.Fatalf("expected rotated token-2, got %s", got)
	}
	if calls := client.callCount(tokenResource); calls != 2 {
		t.Fatalf("expected two remote fetches, got %d", calls)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[tokenResource] = "token-1"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"))
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://vision_token"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	fetcher.Invalidate("secret://vision_token?version=latest")
	if _, err := fetcher.Resolve(ctx, "secret://vision_token"); err != nil {
		t.Fatalf("Resolve after invalidate returned error: %v", err)
	}
	if calls := client.callCount(tokenResource); calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "# local overrides\nsecret://vision_token=local=token\n")

	client := newFakeSecretClient()
	client.errors[tokenResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://vision_token")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local=token" {
		t.Fatalf("expected fallback local=token, got %s", got)
	}
}

func TestResolveUsesEnvironmentScopedPins(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	pinned := "projects/prod-project/secrets/vision_token/versions/7"
	client.values[pinned] = "version-7"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithEnvironment("prod"),
		WithDefaultProject("test"),
		WithProjectMap(map[string]string{"prod": "prod-project"}),
		WithVersionPins(map[string]string{
			"secret://vision_token":      "5",
			"prod:secret://vision_token": "7",
		}),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://vision_token")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "version-7" {
		t.Fatalf("expected version-7, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "secret://vision_token=local-token\n")

	client := newFakeSecretClient()
	client.errors[tokenResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := fetcher.Resolve(ctx, "secret://vision_token"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	fetcher, err := NewFetcher(ctx, WithFallbackFile(writeFallback(t, "secret://vision_token=local-token\n")))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://vision_token")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-token" {
		t.Fatalf("expected local token, got %s", value)
	}
}

func TestParseReference(t *testing.T) {
	cases := map[string]struct {
		ref     string
		want    Reference
		wantErr bool
	}{
		"plain":         {ref: "secret://vision_token", want: Reference{Canonical: "secret://vision_token", Secret: "vision_token"}},
		"legacy scheme": {ref: " sm://vision_token ", want: Reference{Canonical: "secret://vision_token", Secret: "vision_token"}},
		"query": {
			ref:  "secret://voice/token?version=3&project=ppx-prod",
			want: Reference{Canonical: "secret://voice/token", Secret: "voice/token", Version: "3", Project: "ppx-prod"},
		},
		"empty":        {ref: "", wantErr: true},
		"wrong scheme": {ref: "https://vision_token", wantErr: true},
		"no name":      {ref: "secret://", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseReference(tc.ref)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected %q to be rejected", tc.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReference: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestParseFallback(t *testing.T) {
	values, err := parseFallback(strings.NewReader("secret://ai=tok=en\nnot a ref=x\nsm://voice= spaced \n"))
	if err != nil {
		t.Fatalf("parseFallback: %v", err)
	}
	if values["secret://ai#latest"] != "tok=en" || values["secret://ai"] != "tok=en" {
		t.Fatalf("expected value with '=' preserved, got %v", values)
	}
	if values["secret://voice#latest"] != "spaced" {
		t.Fatalf("expected trimmed latest entry, got %v", values)
	}
	if len(values) != 4 {
		t.Fatalf("expected invalid line to be skipped, got %v", values)
	}
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
