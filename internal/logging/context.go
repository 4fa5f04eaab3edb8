package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type collectionCtxKey struct{}
type usernameCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.@\\-]+$`)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if c := CollectionFromContext(ctx); c != "" {
		fields = append(fields, zap.String("collection", c))
	}
	if u := UsernameFromContext(ctx); u != "" {
		fields = append(fields, zap.String("user", u))
	}
	return fields
}

// WithRequestID adds a request ID to ctx. Values that are empty, too long
// or contain unexpected characters are dropped, since they usually come
// from a client-supplied header.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithCollection tags ctx with the team collection being operated on.
func WithCollection(ctx context.Context, collection string) context.Context {
	if !validID(collection) {
		return ctx
	}
	return context.WithValue(ctx, collectionCtxKey{}, collection)
}

// CollectionFromContext extracts the collection tag from ctx.
func CollectionFromContext(ctx context.Context) string {
	s, _ := ctx.Value(collectionCtxKey{}).(string)
	return s
}

// WithUsername tags ctx with the user a request acts for.
func WithUsername(ctx context.Context, username string) context.Context {
	if !validID(username) {
		return ctx
	}
	return context.WithValue(ctx, usernameCtxKey{}, username)
}

// UsernameFromContext extracts the username tag from ctx.
func UsernameFromContext(ctx context.Context) string {
	s, _ := ctx.Value(usernameCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}
