package monitoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
)

// WithRequestID stores the pipeline request id on ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithUserID stores the user id on ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// RequestIDFromContext returns the request id, or ""
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// UserIDFromContext returns the user id, or ""
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// TraceIDFromContext returns the active trace id, or ""
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// LoggerFromContext adds request, user and trace fields to base
func LoggerFromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 3)
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := UserIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("user_id", id))
	}
	if id := TraceIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// LogModelCall logs one language model call at a level matching its outcome
func LogModelCall(ctx context.Context, base *zap.Logger, backend, task string, duration time.Duration, tokens int, err error) {
	logger := LoggerFromContext(ctx, base)

	fields := []zap.Field{
		zap.String("backend", backend),
		zap.String("task", task),
		zap.Duration("duration", duration),
		zap.Int("tokens_used", tokens),
	}

	if err != nil {
		logger.Warn("Model call failed", append(fields, zap.Error(err))...)
		return
	}
	if duration > 10*time.Second {
		logger.Warn("Slow model call", fields...)
		return
	}
	logger.Debug("Model call completed", fields...)
}
