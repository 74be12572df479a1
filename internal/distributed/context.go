package distributed

import "context"

type requestIDKey struct{}

// ContextWithRequestID tags ctx with the distributed request being executed.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id set by the orchestrator, or "" outside a
// distributed execution.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}
