package transcribe

import "context"

type contextKey string

const sessionIDKey contextKey = "transcribe_session_id"

// WithSessionID tags the context with the live session an audio chunk
// belongs to. The mock provider uses it to keep its cycling counter
// session-local; the real provider ignores it.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the tagged session ID, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}
