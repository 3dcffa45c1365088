package auth

import "context"

type identityKey struct{}

type adminKey struct{}

// Admin is the authenticated admin console principal.
type Admin struct {
	Username  string
	SessionID int64
}

// WithIdentity stores the caller's quota identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// Identity returns the caller's quota identity, or "" if none was resolved.
func Identity(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}

func WithAdmin(ctx context.Context, a Admin) context.Context {
	return context.WithValue(ctx, adminKey{}, a)
}

func AdminFromContext(ctx context.Context) (Admin, bool) {
	a, ok := ctx.Value(adminKey{}).(Admin)
	return a, ok
}

func IsAdmin(ctx context.Context) bool {
	_, ok := AdminFromContext(ctx)
	return ok
}
