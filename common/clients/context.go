package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// TaskIDKey is the context key for the sign task id (X-Sign-Task-ID header)
	TaskIDKey contextKey = "sign-task-id"
)

// WithTaskID adds a sign task id to the context
// It is added as X-Sign-Task-ID header in outgoing HTTP requests
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// GetTaskID retrieves the sign task id from context
func GetTaskID(ctx context.Context) (string, bool) {
	taskID, ok := ctx.Value(TaskIDKey).(string)
	return taskID, ok && taskID != ""
}
