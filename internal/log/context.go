package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns l enriched with the request id and trace id carried
// by ctx, if any.
func FromContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	id := RequestIDFromContext(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if id == "" && !sc.HasTraceID() {
		return l
	}
	c := l.With()
	if id != "" {
		c = c.Str(FieldRequestID, id)
	}
	if sc.HasTraceID() {
		c = c.Str(FieldTraceID, sc.TraceID().String())
	}
	return c.Logger()
}
