// Package requestctx carries per-request values (logger, trace and operator) between HTTP
// middleware and the services handling a cart.
package requestctx

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	operatorKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace span a request belongs to.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func with(ctx context.Context, k key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, value)
}

func lookup[T any](ctx context.Context, k key) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// WithLogger attaches logger to ctx. A nil logger attaches the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey, logger)
}

// Logger returns the request logger, never nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := lookup[*zap.Logger](ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return lookup[TraceInfo](ctx, traceKey)
}

// TraceID returns the trace id of the request, or "" outside a traced request.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithOperator records the station operator acting on the cart. Blank identifiers leave ctx
// unchanged so an upstream operator is not erased.
func WithOperator(ctx context.Context, operator string) context.Context {
	if operator = strings.TrimSpace(operator); operator == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return with(ctx, operatorKey, operator)
}

// Operator returns the operator attached to ctx, or "".
func Operator(ctx context.Context) string {
	operator, _ := lookup[string](ctx, operatorKey)
	return operator
}
