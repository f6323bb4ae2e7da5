package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Francovarelav/pickpackpromx/internal/platform/httpx"
	"github.com/Francovarelav/pickpackpromx/internal/platform/requestctx"
)

const (
	defaultHeaderName   = "Idempotency-Key"
	replayHeaderName    = "X-Idempotent-Replay"
	defaultMaxBodyBytes = 1 << 20
	anonymousOperator   = "anonymous"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	methods  map[string]struct{}
	optional bool
	maxBody  int64
	skip     func(*http.Request) bool
	clock    clockFunc
	logger   Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL configures how long completed records are replayed. After expiry the key may be
// reused for a different request.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods guarded by the middleware.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithOptionalKey lets requests without the idempotency header through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) {
		g.optional = true
	}
}

// WithSkip exempts requests for which fn returns true, such as frame uploads whose bodies
// are too large to fingerprint and replay.
func WithSkip(fn func(*http.Request) bool) MiddlewareOption {
	return func(g *guard) {
		g.skip = fn
	}
}

// WithMaxBodyBytes bounds how much of a guarded request body is buffered for fingerprinting.
func WithMaxBodyBytes(limit int64) MiddlewareOption {
	return func(g *guard) {
		if limit > 0 {
			g.maxBody = limit
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware replays the stored response when a mutating request is retried with the same
// key. Keys are scoped to the operator on the request context. Responses with a 5xx status
// are never stored, so a retry after a server failure runs the handler again.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		maxBody: defaultMaxBodyBytes,
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	if _, guarded := g.methods[r.Method]; !guarded || (g.skip != nil && g.skip(r)) {
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		if g.optional {
			next.ServeHTTP(w, r)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.header+" header", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r, g.maxBody)
	if err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_read_body_failed", "unable to read request body", http.StatusBadRequest))
		return
	}

	operator := requestOperator(r)
	scoped := scopedKey(key, operator)
	fingerprint := requestFingerprint(r, body, operator)

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.logf("idempotency: reserve key %s for %s: %v", key, operator, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	case ReservationStateNew:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unknown_state", "unexpected idempotency state", http.StatusInternalServerError))
		return
	}

	buf := newBufferedResponse()
	next.ServeHTTP(buf, r)

	if buf.Status() >= http.StatusInternalServerError {
		g.release(r, scoped, fingerprint, key)
		g.flush(w, buf, key)
		return
	}

	resp := Response{Status: buf.Status(), Headers: buf.Header().Clone(), Body: buf.body.Bytes()}
	if err := g.store.SaveResponse(ctx, scoped, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: persist response for key %s (%s): %v", key, operator, err)
		g.release(r, scoped, fingerprint, key)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}
	g.flush(w, buf, key)
}

func (g *guard) release(r *http.Request, scoped, fingerprint, key string) {
	if err := g.store.Release(r.Context(), scoped, fingerprint); err != nil {
		g.logf("idempotency: release key %s: %v", key, err)
	}
}

func (g *guard) flush(w http.ResponseWriter, buf *bufferedResponse, key string) {
	if err := buf.writeTo(w); err != nil {
		g.logf("idempotency: write response for key %s: %v", key, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, httpx.ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestOperator(r *http.Request) string {
	if operator := strings.TrimSpace(requestctx.Operator(r.Context())); operator != "" {
		return operator
	}
	return anonymousOperator
}

// scopedKey namespaces the client key by operator so two stations cannot collide.
func scopedKey(key, operator string) string {
	return operator + ":" + strings.TrimSpace(key)
}

func requestFingerprint(r *http.Request, body []byte, operator string) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type"))),
		operator,
	}
	if len(body) > 0 {
		parts = append(parts, sha256Hex(body))
	}
	return sha256Hex([]byte(strings.Join(parts, "\n")))
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		dst[name] = values
	}
	dst.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// bufferedResponse holds the handler's response until the idempotency record is saved.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedResponse) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.Status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
