package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	paperIDKey   contextKey = "paper_id"
	taskTypeKey  contextKey = "task_type"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithTask adds the paper ID and task type of the task being processed to
// the context, so repository and source layers can log them.
func WithTask(ctx context.Context, paperID, taskType string) context.Context {
	ctx = context.WithValue(ctx, paperIDKey, paperID)
	ctx = context.WithValue(ctx, taskTypeKey, taskType)
	return ctx
}

// TaskFromContext retrieves the paper ID and task type from context.
// Returns empty strings if not present.
func TaskFromContext(ctx context.Context) (paperID, taskType string) {
	if v := ctx.Value(paperIDKey); v != nil {
		if id, ok := v.(string); ok {
			paperID = id
		}
	}
	if v := ctx.Value(taskTypeKey); v != nil {
		if t, ok := v.(string); ok {
			taskType = t
		}
	}
	return paperID, taskType
}
