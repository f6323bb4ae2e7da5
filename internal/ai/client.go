package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultTimeout  = 20 * time.Second
	maxResponseSize = 4 << 20
)

var tracer = otel.Tracer("github.com/Francovarelav/pickpackpromx/internal/ai")

// Logger defines the logging contract for collaborator calls.
type Logger func(ctx context.Context, event string, fields map[string]any)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures a collaborator client.
type ClientConfig struct {
	Endpoint  string
	AuthToken string
	// TokenSource, when set, is consulted on every request and takes precedence over AuthToken.
	TokenSource func(ctx context.Context) (string, error)
	Timeout     time.Duration
	HTTPClient  HTTPDoer
	Logger      Logger
	Clock       func() time.Time
}

type client struct {
	endpoint    string
	token       string
	tokenSource func(context.Context) (string, error)
	http        HTTPDoer
	logger      Logger
	clock       func() time.Time
}

func newClient(cfg ClientConfig) (*client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("ai: endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("ai: endpoint %q must be an http(s) url", endpoint)
	}

	doer := cfg.HTTPClient
	if doer == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		doer = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &client{
		endpoint:    strings.TrimRight(endpoint, "/"),
		token:       strings.TrimSpace(cfg.AuthToken),
		tokenSource: cfg.TokenSource,
		http:        doer,
		logger:      logger,
		clock:       clock,
	}, nil
}

// postJSON sends payload to path and decodes the JSON response into out.
func (c *client) postJSON(ctx context.Context, operation, path string, payload any, out any) error {
	ctx, span := tracer.Start(ctx, "ai."+operation)
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ai: encode %s request: %w", operation, err)
	}

	url := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ai: build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	token, err := c.bearer(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token unavailable")
		return fmt.Errorf("ai: %s credentials: %w", operation, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := c.clock()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ai: %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("ai: read %s response: %w", operation, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger(ctx, "ai.response", map[string]any{
		"operation":  operation,
		"status":     resp.StatusCode,
		"durationMs": c.clock().Sub(started).Milliseconds(),
	})

	if resp.StatusCode == http.StatusTooManyRequests {
		err := &RateLimitError{Operation: operation, Delay: parseRetryAfter(resp.Header.Get("Retry-After"), c.clock())}
		span.SetStatus(codes.Error, "rate limited")
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{Operation: operation, StatusCode: resp.StatusCode, Body: snippet(raw)}
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return err
	}

	if err := decodeJSON(raw, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid response")
		return fmt.Errorf("ai: decode %s response: %w", operation, err)
	}
	return nil
}

// decodeJSON accepts a bare JSON object or an object embedded in surrounding text, as
// language-model backed services sometimes wrap their answer.
func decodeJSON(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(trimmed, out); err == nil {
		return nil
	}
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start == -1 || end <= start {
		return ErrMalformedResponse
	}
	if err := json.Unmarshal(trimmed[start:end+1], out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// snippet trims an error body to at most 256 bytes without splitting a rune.
func snippet(raw []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(raw))
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (c *client) bearer(ctx context.Context) (string, error) {
	if c.tokenSource == nil {
		return c.token, nil
	}
	token, err := c.tokenSource(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}
