package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Francovarelav/pickpackpromx/internal/platform/httpx"
	"github.com/Francovarelav/pickpackpromx/internal/platform/requestctx"
)

// DefaultOperatorHeader is read when no header name is configured.
const DefaultOperatorHeader = "X-Operator-ID"

// InjectLoggerMiddleware stores the provided logger on the request context to make it accessible downstream.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithLogger(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorMiddleware copies the operator badge from header onto the request context. Stations
// are trusted; the value is only used for attribution in logs, events and idempotency scoping.
func OperatorMiddleware(header string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultOperatorHeader
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if operator := SanitizeOperator(r.Header.Get(header)); operator != "" {
				r = r.WithContext(requestctx.WithOperator(r.Context(), operator))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLoggerMiddleware logs each request once on completion with its route, status and
// cart. Event streams also log when they open so long-lived connections stay visible.
// Throttled frame uploads (429) log at info; other 4xx at warn and 5xx or panics at error.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := requestctx.Logger(r.Context()).With(requestFields(r, projectID)...)
			r = r.WithContext(requestctx.WithLogger(r.Context(), logger))

			entry := &requestEntry{logger: logger, recorder: newResponseRecorder(w), start: time.Now()}
			if isEventStream(r) {
				logger.Info("stream opened")
			}
			defer func() {
				rec := recover()
				entry.finish(r, rec != nil)
				if rec != nil {
					panic(rec)
				}
			}()
			next.ServeHTTP(entry.recorder, r)
		})
	}
}

type requestEntry struct {
	logger   *zap.Logger
	recorder *responseRecorder
	start    time.Time
}

func (e *requestEntry) finish(r *http.Request, panicked bool) {
	status := e.recorder.Status()
	if panicked && status < http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}
	route := SanitizeRoute(routePattern(r))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	fields := []zap.Field{
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(e.start)),
		zap.Int64("bytes", e.recorder.BytesWritten()),
	}
	if cartID := cartIDParam(r); cartID != "" {
		fields = append(fields, zap.String("cart_id", cartID))
	}
	switch {
	case status >= http.StatusInternalServerError:
		e.logger.Error("request completed", fields...)
	case status == http.StatusTooManyRequests:
		e.logger.Info("request completed", fields...)
	case status >= http.StatusBadRequest:
		e.logger.Warn("request completed", fields...)
	default:
		e.logger.Info("request completed", fields...)
	}
}

func requestFields(r *http.Request, projectID string) []zap.Field {
	ctx := r.Context()
	info, _ := requestctx.Trace(ctx)
	if info.ProjectID == "" {
		info.ProjectID = projectID
	}
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("path", SanitizeRoute(r.URL.Path)),
	}
	if info.TraceID != "" {
		fields = append(fields, zap.String("trace_id", info.TraceID))
		if info.ProjectID != "" {
			fields = append(fields, zap.String("logging.googleapis.com/trace", fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
		}
	}
	if operator := requestctx.Operator(ctx); operator != "" {
		fields = append(fields, zap.String("operator", operator))
	}
	if ip := remoteHost(r.RemoteAddr); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return fields
}

// RecoveryMiddleware captures panics, logs the stack trace, and returns a JSON error response.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = requestctx.NoopLogger()
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// routePattern is resolved after the handler ran; chi fills the pattern while routing.
func routePattern(r *http.Request) string {
	if r == nil {
		return "/"
	}
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return r.URL.Path
	}
	return "/"
}

func cartIDParam(r *http.Request) string {
	if r == nil {
		return ""
	}
	ctx := chi.RouteContext(r.Context())
	if ctx == nil {
		return ""
	}
	return SanitizeCartID(ctx.URLParam("cartID"))
}

func isEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

// responseRecorder tracks status and size. It forwards Flush and exposes Unwrap so event
// streams and http.ResponseController keep working behind the logger.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	if status < 100 {
		status = http.StatusOK
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	r.wroteHeader = true
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) BytesWritten() int64 {
	return r.bytes
}
