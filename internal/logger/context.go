package logger

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ctxKey keeps the request ID value private to this package.
type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores a request ID on the context for log correlation.
// Non-HTTP work (cron fires, queue consumers) uses this to tag its logs
// the same way the HTTP middleware tags requests.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID reads the request ID back, falling back to the one chi's
// RequestID middleware put on the context. Empty when neither is set.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return chimw.GetReqID(ctx)
}
