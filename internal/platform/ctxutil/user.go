package ctxutil

import "context"

type userIDKey struct{}

// WithUserID stamps the authenticated subject onto the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated subject, or "" when unauthenticated.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}
