package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expirer is the authentication collaborator of the fetch core.
//
// Contract:
// - ExpireCredentials is invoked at most once per failed fetch whose error
//   is NotAuthorized.
// - Implementations must be safe for concurrent use.
type Expirer interface {
	ExpireCredentials()
}

// ExpirerFunc adapts a function to the Expirer interface.
type ExpirerFunc func()

// ExpireCredentials calls f.
func (f ExpirerFunc) ExpireCredentials() { f() }

// Session holds the bearer token used by backends. The token is a JWT; its
// claims are decoded without signature verification, since the server that
// issued it is the one that validates it.
type Session struct {
	mu        sync.RWMutex
	token     string
	identity  *Identity
	expired   bool
	expiries  int
	listeners []func()
	now       func() time.Time
}

// NewSession creates an empty session. Call SetToken once credentials are
// available.
func NewSession() *Session {
	return &Session{now: time.Now}
}

// SetToken stores a bearer token and decodes its identity. A successful
// call clears the expired flag.
func (s *Session) SetToken(token string) error {
	if token == "" {
		return ErrMissingCredentials
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.identity = identityFromClaims(claims)
	s.expired = false
	return nil
}

// Token returns the current bearer token.
// Returns ErrTokenExpired after ExpireCredentials or once the exp claim has
// passed, and ErrMissingCredentials when no token was set.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.expired:
		return "", ErrTokenExpired
	case s.token == "":
		return "", ErrMissingCredentials
	case s.identity != nil && s.identity.expiredAt(s.now()):
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// Identity returns the identity decoded from the current token, or nil.
func (s *Session) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expired {
		return nil
	}
	return s.identity
}

// Expired reports whether the credentials were expired explicitly.
func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expired
}

// Expiries returns how many times ExpireCredentials was invoked.
func (s *Session) Expiries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiries
}

// OnExpire registers fn to run after every ExpireCredentials call.
func (s *Session) OnExpire(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ExpireCredentials drops the token and notifies listeners. Listeners run
// outside the session lock and may call SetToken.
func (s *Session) ExpireCredentials() {
	s.mu.Lock()
	s.token = ""
	s.identity = nil
	s.expired = true
	s.expiries++
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func identityFromClaims(claims jwt.MapClaims) *Identity {
	id := &Identity{Claims: make(map[string]any, len(claims))}
	for k, v := range claims {
		id.Claims[k] = v
	}

	if sub, err := claims.GetSubject(); err == nil {
		id.Principal = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	if tenant, ok := claims["tenant"].(string); ok {
		id.TenantID = tenant
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	return id
}

var _ Expirer = (*Session)(nil)
