// Package requestid carries a per-request correlation id through context and
// into log lines.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header the id travels in.
const Header = "X-Request-ID"

// maxLen bounds ids accepted from callers.
const maxLen = 128

type ctxKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request id, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Ensure returns ctx with an id, keeping incoming when it is usable.
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	if incoming == "" || len(incoming) > maxLen {
		incoming = uuid.New().String()
	}
	return WithRequestID(ctx, incoming), incoming
}

// Logger returns logger tagged with the context's request id.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id, ok := FromContext(ctx); ok {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
