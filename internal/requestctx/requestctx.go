// Package requestctx provides request-scoped values (e.g. session_id) set by
// middleware or the CLI entry point.
package requestctx

import "context"

type contextKey struct{}

var (
	sessionIDKey     = &contextKey{}
	correlationIDKey = &contextKey{}
)

// SetSessionID stores session_id in the context.
func SetSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID returns the session_id from context, or "" if not set.
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// SetCorrelationID stores the correlation_id in the context.
func SetCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID returns the correlation_id from context, or "" if not set.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
