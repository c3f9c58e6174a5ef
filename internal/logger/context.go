package logger

import "context"

// WithRequestID returns a context carrying the request ID for logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithUserID returns a context carrying the user ID for logging.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// WithSessionID returns a context carrying the live session ID for logging.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithMeetingID returns a context carrying the meeting ID for logging.
func WithMeetingID(ctx context.Context, meetingID string) context.Context {
	return context.WithValue(ctx, ContextKeyMeetingID, meetingID)
}

// WithOperation returns a context carrying the operation name for logging.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}
