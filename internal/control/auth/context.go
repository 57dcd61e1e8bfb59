package auth

import (
	"context"
)

type contextKey struct{}

// WithSession adds the session to the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SessionFromContext retrieves the session from the context.
func SessionFromContext(ctx context.Context) *Session {
	val := ctx.Value(contextKey{})
	if s, ok := val.(*Session); ok {
		return s
	}
	return nil
}
