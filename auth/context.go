package auth

import (
	"context"
)

// Context keys for auth-related values.
type contextKey int

const (
	sessionKey contextKey = iota
)

// WithSession returns a new context carrying the given session. Backends
// use it to read the bearer token for the request they are serving.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext retrieves the session from the context.
// Returns nil if no session is present.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

// IdentityFromContext retrieves the identity of the session in ctx.
// Returns nil if there is no session or it holds no token.
func IdentityFromContext(ctx context.Context) *Identity {
	s := SessionFromContext(ctx)
	if s == nil {
		return nil
	}
	return s.Identity()
}

// PrincipalFromContext retrieves the principal from the context.
// Returns empty string if no identity is present.
func PrincipalFromContext(ctx context.Context) string {
	id := IdentityFromContext(ctx)
	if id == nil {
		return ""
	}
	return id.Principal
}
