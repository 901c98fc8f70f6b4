package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	requestIDKey contextKey = "request_id"
	clientIDKey  contextKey = "client_id"
)

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextLogger adds the ids carried by a context to every log line.
type ContextLogger struct {
	logger *zap.SugaredLogger
}

func NewContextLogger(logger *zap.SugaredLogger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger annotated with session_id, request_id,
// client_id and trace_id when ctx carries them.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.SugaredLogger {
	var fields []interface{}
	for _, key := range []contextKey{sessionIDKey, requestIDKey, clientIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, string(key), v)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, "trace_id", sc.TraceID().String())
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// LogRequest logs one handled HTTP request.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMs int64) {
	log := cl.WithContext(ctx)
	kv := []interface{}{"method", method, "path", path, "status_code", statusCode, "duration_ms", durationMs}
	switch {
	case statusCode >= 500:
		log.Errorw("http_request", kv...)
	case statusCode >= 400:
		log.Warnw("http_request", kv...)
	default:
		log.Infow("http_request", kv...)
	}
}
